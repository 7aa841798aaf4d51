// Package registry tracks every currently-known socket connection.
//
// A Connection record pairs a transport handle with its owning user,
// path, liveness flag and last-ping timestamp. The Store interface is a
// key-value arena with atomic per-handle upsert and total delete; the
// lifecycle and the stale sweeper mutate records only through it.
//
// Three backends ship: Memory for a single process, Redis for a
// registry shared across dispatch instances, and Postgres when records
// should survive restarts.
package registry
