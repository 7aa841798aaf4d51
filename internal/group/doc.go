// Package group fans envelopes out to sets of connections.
//
// A Group is derived from a registry snapshot: its identity is a
// content hash over the member handle names, order-independent, so the
// same membership always yields the same group id and the transport
// layer can cache group subscriptions across calls. Groups are
// ephemeral and recomputed per broadcast.
package group
