// Package transport provides the channel abstraction the routing layer
// sends through.
//
// A Handle names one addressable channel. The Transport interface is a
// name-addressable registry of such channels: Send delivers raw bytes to
// one handle, Accept completes a pending connection handshake. Local is
// the in-process implementation backed by registered Senders (normally
// websocket peers).
//
// Handles prefixed with "bot-" belong to synthetic connections with no
// real socket behind them; they are tracked by the registry but are
// never addressable.
package transport
