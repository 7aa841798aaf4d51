package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

// Connection is the registry record for one live socket.
type Connection struct {
	// ID is assigned by the store on create, stable for the
	// connection's lifetime.
	ID string

	// Handle addresses the connection's transport channel. At most one
	// live record exists per handle; the store enforces uniqueness on
	// upsert.
	Handle transport.Handle

	// UserID is zero for anonymous (spectator) connections.
	UserID int64

	// SessionID is a foreign key into the session store, empty when the
	// initiating request carried no session cookie.
	SessionID string

	// Path is the logical endpoint the connection is bound to,
	// e.g. "/table/1234".
	Path string

	// Active is true while the connection is confirmed live, false
	// while a liveness confirmation is pending.
	Active bool

	// LastPing is the last confirmed liveness signal.
	LastPing time.Time

	// UserIP is the best-effort client address.
	UserIP string
}

// Anonymous reports whether the connection has no authenticated owner.
func (c Connection) Anonymous() bool {
	return c.UserID == 0
}

// String renders like "<Socket 5@/table/1234 (inactive)>".
func (c Connection) String() string {
	owner := "anon"
	if c.UserID != 0 {
		owner = fmt.Sprintf("%d", c.UserID)
	}
	inactive := ""
	if !c.Active {
		inactive = " (inactive)"
	}
	return fmt.Sprintf("<Socket %s@%s%s>", owner, c.Path, inactive)
}

// Query selects a subset of connections. Zero values mean "any".
type Query struct {
	UserID     int64  // match owning user, 0 = any
	Path       string // match bound path, "" = any
	ExcludeID  string // leave out one connection, typically the caller's
	ActiveOnly bool   // only confirmed-live connections
}

func (q Query) matches(c Connection) bool {
	if q.UserID != 0 && c.UserID != q.UserID {
		return false
	}
	if q.Path != "" && c.Path != q.Path {
		return false
	}
	if q.ExcludeID != "" && c.ID == q.ExcludeID {
		return false
	}
	if q.ActiveOnly && !c.Active {
		return false
	}
	return true
}

// Store is the arena for connection records. Mutations are atomic per
// handle; concurrent upserts on the same handle never interleave into a
// corrupt record.
type Store interface {
	// Upsert creates or refreshes the record keyed by conn.Handle and
	// returns the stored record plus whether it was created. UserID,
	// Path, Active and LastPing always overwrite; SessionID and UserIP
	// overwrite only when non-empty.
	Upsert(ctx context.Context, conn Connection) (Connection, bool, error)

	// Get returns the record with the given ID.
	Get(ctx context.Context, id string) (Connection, bool, error)

	// GetByHandle returns the record addressing the given handle.
	GetByHandle(ctx context.Context, h transport.Handle) (Connection, bool, error)

	// Delete removes the record. Deleting an already-removed record is
	// a no-op and reports false.
	Delete(ctx context.Context, id string) (bool, error)

	// List returns a snapshot of the records matching q.
	List(ctx context.Context, q Query) ([]Connection, error)

	// MarkPending flips every active record matching q to pending
	// (active=false) in one consistent pass and returns the flipped
	// set, so a sweep never double-pings.
	MarkPending(ctx context.Context, q Query) ([]Connection, error)

	// PurgeInactive deletes every pending record whose last ping is
	// older than the cutoff and returns how many were removed.
	PurgeInactive(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}
