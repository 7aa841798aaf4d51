package socket

import (
	"context"
	"sync"
	"time"

	"github.com/Monadical-SAS/socketrouter/internal/envelope"
	"github.com/Monadical-SAS/socketrouter/internal/registry"
	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

// Client is the server-side state for one live connection. It
// implements router.Peer; handlers receive it as the first argument of
// every dispatch.
type Client struct {
	l *Lifecycle

	handle    transport.Handle
	path      string
	sessionID string
	userIP    string

	mu     sync.Mutex
	userID int64
	meta   registry.Connection // last stored registry snapshot
	closed bool
}

// Handle returns the connection's transport handle.
func (c *Client) Handle() transport.Handle {
	return c.handle
}

// Meta returns a snapshot of the connection's registry record.
func (c *Client) Meta() registry.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// Refresh re-resolves the session and upserts the registry record with
// active=true and a fresh last-ping. Any refresh confirms liveness,
// which is what flips a pending connection back to active.
func (c *Client) Refresh(ctx context.Context) error {
	userID := c.resolveUser(ctx)

	stored, _, err := c.l.store.Upsert(ctx, registry.Connection{
		Handle:    c.handle,
		UserID:    userID,
		SessionID: c.sessionID,
		Path:      c.path,
		Active:    true,
		LastPing:  time.Now(),
		UserIP:    c.userIP,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.meta = stored
	c.mu.Unlock()
	return nil
}

// resolveUser looks the session up on every refresh, so an erased
// session table downgrades the connection to anonymous instead of
// keeping a stale user attached.
func (c *Client) resolveUser(ctx context.Context) int64 {
	var userID int64
	if c.sessionID != "" {
		id, ok, err := c.l.sessions.LookupUser(ctx, c.sessionID)
		if err != nil {
			c.l.logger.Warn("session lookup failed",
				"session_id", c.sessionID,
				"error", err,
			)
		} else if ok {
			userID = id
		}
	}

	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	return userID
}

// Send stamps a delivery timestamp, logs the outbound message,
// serializes and delivers. Sends to a bot-class handle are a no-op by
// design.
func (c *Client) Send(ctx context.Context, env envelope.Envelope) error {
	env.Stamp(time.Now())
	data, err := env.Encode()
	if err != nil {
		return err
	}

	c.l.logger.Debug("send",
		"action", env.Action(c.l.table.RoutingKey()),
		"conn", c.Meta().ID,
	)
	return c.SendRaw(ctx, data)
}

// SendAction builds and sends an envelope for the given action type.
func (c *Client) SendAction(ctx context.Context, actionType string, fields map[string]any) error {
	return c.Send(ctx, envelope.New(c.l.table.RoutingKey(), actionType, fields))
}

// SendRaw delivers pre-serialized bytes without stamping.
func (c *Client) SendRaw(ctx context.Context, data []byte) error {
	if !c.handle.Addressable() {
		return nil
	}
	return c.l.transport.Send(c.handle, data)
}

func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}
