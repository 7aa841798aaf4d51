// Package router implements the message dispatch engine.
//
// A Table is an ordered sequence of (pattern, handler) entries plus a
// default handler. Patterns match an envelope's action type either by
// exact string equality or by full regex match. The table is scanned in
// reverse registration order, so the most recently declared route wins
// on ties; downstream tables extend a base table via Clone and override
// by registering later.
//
// Dispatch never lets a handler fault escape its boundary: errors and
// panics are contained, the connection's session is refreshed, and in
// diagnostic mode a structured ERROR envelope is sent back to the
// client.
package router
