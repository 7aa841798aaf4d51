// Package sweeper detects and reaps connections that died without a
// close frame.
//
// The liveness protocol has two states per connection: active
// (confirmed live) and pending (awaiting confirmation). A sweep flips
// the active set to pending and broadcasts a PING; any message that
// refreshes the session flips the connection back to active. Records
// still pending past the grace window are purged.
//
// This is a best-effort check, not a heartbeat primitive: the grace
// window must tolerate normal round-trip latency, and a purge of a
// slow-but-alive connection is an accepted failure mode.
package sweeper
