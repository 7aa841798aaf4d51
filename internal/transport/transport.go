package transport

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// BotPrefix marks handles of synthetic connections (server-side bots).
// Sends to them are dropped by design, not an error.
const BotPrefix = "bot-"

var (
	// ErrUnknownHandle is returned when no channel is registered under
	// the requested handle.
	ErrUnknownHandle = errors.New("transport: unknown handle")

	// ErrNotAccepted is returned when sending to a peer whose handshake
	// was never completed.
	ErrNotAccepted = errors.New("transport: handshake not accepted")
)

// Handle names a single channel, unique for the channel's lifetime.
type Handle string

// NewHandle allocates a fresh channel name.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

// BotHandle builds a handle for a synthetic connection.
func BotHandle(name string) Handle {
	return Handle(BotPrefix + name)
}

// Addressable reports whether bytes can actually be delivered to this
// handle.
func (h Handle) Addressable() bool {
	return !strings.HasPrefix(string(h), BotPrefix)
}

// Sender delivers raw bytes to one peer.
type Sender interface {
	// Send writes one message to the peer.
	Send(data []byte) error

	// Accept completes the connection handshake. Until accepted the
	// connection is half-open and Send fails.
	Accept() error
}

// Transport is a name-addressable registry of channels.
type Transport interface {
	// Send delivers raw bytes to the named channel.
	Send(h Handle, data []byte) error

	// Accept completes the handshake for the named channel.
	Accept(h Handle) error
}

// Local is the in-process Transport: a registry of live Senders keyed
// by handle.
type Local struct {
	logger *slog.Logger

	mu    sync.RWMutex
	peers map[Handle]Sender
}

// NewLocal creates an empty local transport.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		logger: logger,
		peers:  make(map[Handle]Sender),
	}
}

// Register attaches a sender under the given handle, replacing any
// previous registration.
func (l *Local) Register(h Handle, s Sender) {
	l.mu.Lock()
	l.peers[h] = s
	l.mu.Unlock()
}

// Unregister removes the channel. Safe to call twice.
func (l *Local) Unregister(h Handle) {
	l.mu.Lock()
	delete(l.peers, h)
	l.mu.Unlock()
}

// Len returns the number of registered channels.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.peers)
}

// Send delivers bytes to one channel. Bot handles are dropped silently.
func (l *Local) Send(h Handle, data []byte) error {
	if !h.Addressable() {
		return nil
	}

	l.mu.RLock()
	peer, ok := l.peers[h]
	l.mu.RUnlock()

	if !ok {
		return ErrUnknownHandle
	}
	return peer.Send(data)
}

// Accept completes the handshake for one channel.
func (l *Local) Accept(h Handle) error {
	l.mu.RLock()
	peer, ok := l.peers[h]
	l.mu.RUnlock()

	if !ok {
		return ErrUnknownHandle
	}
	return peer.Accept()
}
