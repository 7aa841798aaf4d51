package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultRoutingKey is the envelope field used to pick a handler unless
// the deployment configures a different one.
const DefaultRoutingKey = "type"

// TimestampKey is injected into every outbound envelope as a
// millisecond-epoch integer.
const TimestampKey = "TIMESTAMP"

// Reserved action types used for managing the connection itself. The
// frontend socket client mirrors these constants.
const (
	Hello        = "HELLO"
	GotHello     = "GOT_HELLO"
	Ping         = "PING"
	PingResponse = "PING_RESPONSE"
	Reconnect    = "RECONNECT"
	Error        = "ERROR"
)

// Envelope is a single structured message: a routing key plus arbitrary
// payload fields. Transient per message, never persisted.
type Envelope map[string]any

// New builds an envelope for the given action type with optional payload
// fields.
func New(routingKey, actionType string, fields map[string]any) Envelope {
	env := make(Envelope, len(fields)+2)
	for k, v := range fields {
		env[k] = v
	}
	env[routingKey] = actionType
	return env
}

// Decode parses raw bytes into an Envelope. Anything other than a JSON
// object is a protocol violation and fails fast.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env == nil {
		return nil, fmt.Errorf("decode envelope: expected a JSON object, got null")
	}
	return env, nil
}

// Action returns the envelope's action type under the given routing key,
// or "" when the key is absent or not a string.
func (e Envelope) Action(routingKey string) string {
	action, _ := e[routingKey].(string)
	return action
}

// Stamp injects the delivery timestamp. One stamp per send or broadcast
// call, never per recipient.
func (e Envelope) Stamp(now time.Time) {
	e[TimestampKey] = now.UnixMilli()
}

// Encode serializes the envelope to JSON.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
