// Package socket orchestrates the lifecycle of one websocket
// connection: connect, receive, disconnect.
//
// OnConnect attaches a registry record and completes the transport
// handshake. OnReceive parses inbound bytes and hands them to the route
// table. OnDisconnect deletes the record and reports abnormal closes.
// Two routes ship by default, HELLO and PING_RESPONSE; downstream code
// extends the table and overrides routes by registering later.
package socket
