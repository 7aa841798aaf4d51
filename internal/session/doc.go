// Package session resolves session ids to authenticated user ids.
//
// The routing layer only needs one lookup from the external session
// store; the backends here are a dev-friendly in-memory map and a
// Redis-backed store for shared deployments.
package session
