package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

// Memory is the in-process Store. A single mutex guards both indexes so
// an upsert and its handle-index update are one atomic step.
type Memory struct {
	mu       sync.RWMutex
	byID     map[string]Connection
	byHandle map[transport.Handle]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:     make(map[string]Connection),
		byHandle: make(map[transport.Handle]string),
	}
}

// Upsert creates or refreshes the record keyed by handle.
func (m *Memory) Upsert(ctx context.Context, conn Connection) (Connection, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byHandle[conn.Handle]; ok {
		existing := m.byID[id]
		existing.UserID = conn.UserID
		existing.Path = conn.Path
		existing.Active = conn.Active
		existing.LastPing = conn.LastPing
		if conn.SessionID != "" {
			existing.SessionID = conn.SessionID
		}
		if conn.UserIP != "" {
			existing.UserIP = conn.UserIP
		}
		m.byID[id] = existing
		return existing, false, nil
	}

	conn.ID = uuid.NewString()
	m.byID[conn.ID] = conn
	m.byHandle[conn.Handle] = conn.ID
	return conn, true, nil
}

// Get returns the record with the given ID.
func (m *Memory) Get(ctx context.Context, id string) (Connection, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.byID[id]
	return conn, ok, nil
}

// GetByHandle returns the record addressing the given handle.
func (m *Memory) GetByHandle(ctx context.Context, h transport.Handle) (Connection, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHandle[h]
	if !ok {
		return Connection{}, false, nil
	}
	conn, ok := m.byID[id]
	return conn, ok, nil
}

// Delete removes the record. Idempotent.
func (m *Memory) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	delete(m.byID, id)
	delete(m.byHandle, conn.Handle)
	return true, nil
}

// List returns a snapshot of the records matching q.
func (m *Memory) List(ctx context.Context, q Query) ([]Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Connection
	for _, conn := range m.byID {
		if q.matches(conn) {
			out = append(out, conn)
		}
	}
	return out, nil
}

// MarkPending flips active records matching q to pending in one pass
// under the write lock.
func (m *Memory) MarkPending(ctx context.Context, q Query) ([]Connection, error) {
	q.ActiveOnly = true

	m.mu.Lock()
	defer m.mu.Unlock()

	var flipped []Connection
	for id, conn := range m.byID {
		if !q.matches(conn) {
			continue
		}
		conn.Active = false
		m.byID[id] = conn
		flipped = append(flipped, conn)
	}
	return flipped, nil
}

// PurgeInactive deletes pending records whose last ping predates the
// cutoff.
func (m *Memory) PurgeInactive(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, conn := range m.byID {
		if conn.Active || !conn.LastPing.Before(olderThan) {
			continue
		}
		delete(m.byID, id)
		delete(m.byHandle, conn.Handle)
		deleted++
	}
	return deleted, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}
