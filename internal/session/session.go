package session

import (
	"context"
	"net/http"
	"sync"
)

// DefaultCookieName is the session cookie read off the handshake
// request unless configured otherwise.
const DefaultCookieName = "sessionid"

// Store looks up the user owning a session.
type Store interface {
	// LookupUser maps a session id to a user id. ok is false when the
	// session is unknown or expired.
	LookupUser(ctx context.Context, sessionID string) (userID int64, ok bool, err error)

	// Close releases backend resources.
	Close() error
}

// IDFromRequest extracts the session id from the handshake request's
// cookie, "" when absent.
func IDFromRequest(r *http.Request, cookieName string) string {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Memory is an in-process session store.
type Memory struct {
	mu    sync.RWMutex
	users map[string]int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]int64)}
}

// Put attaches a session to a user.
func (m *Memory) Put(sessionID string, userID int64) {
	m.mu.Lock()
	m.users[sessionID] = userID
	m.mu.Unlock()
}

// Forget drops a session, simulating expiry.
func (m *Memory) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.users, sessionID)
	m.mu.Unlock()
}

// LookupUser maps a session id to a user id.
func (m *Memory) LookupUser(ctx context.Context, sessionID string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.users[sessionID]
	return userID, ok, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}
