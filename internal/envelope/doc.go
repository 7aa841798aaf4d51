// Package envelope defines the JSON wire format exchanged over socket
// connections.
//
// Every message is a JSON object carrying a routing key (default "type")
// that selects a handler, plus free-form payload fields. Outbound
// envelopes are stamped with a millisecond-epoch TIMESTAMP field before
// serialization so clients can measure delivery latency.
package envelope
