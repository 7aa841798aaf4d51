// Package server owns the HTTP listener that upgrades requests to
// websocket connections and feeds them through the lifecycle.
//
// Each connection gets a fresh handle, a registered transport peer and
// a read loop; inbound messages on one connection are dispatched in the
// order received, while separate connections proceed concurrently.
package server
