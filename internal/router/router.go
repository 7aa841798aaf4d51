package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Monadical-SAS/socketrouter/internal/envelope"
	"github.com/Monadical-SAS/socketrouter/internal/registry"
)

// Peer is the connection a message arrived on, as seen by handlers.
type Peer interface {
	// Send stamps, serializes and delivers an envelope to this
	// connection.
	Send(ctx context.Context, env envelope.Envelope) error

	// SendAction builds and sends an envelope for the given action
	// type.
	SendAction(ctx context.Context, actionType string, fields map[string]any) error

	// Refresh re-upserts the connection's registry record, confirming
	// liveness.
	Refresh(ctx context.Context) error

	// Meta returns a snapshot of the connection's registry record.
	Meta() registry.Connection
}

// HandlerFunc processes one envelope for one connection.
type HandlerFunc func(ctx context.Context, p Peer, env envelope.Envelope) error

type route struct {
	pattern Pattern
	handler HandlerFunc
}

// Config holds dispatch settings.
type Config struct {
	// RoutingKey is the envelope field that selects a handler.
	// Defaults to envelope.DefaultRoutingKey.
	RoutingKey string

	// Diagnostic sends handler failure detail back to the client.
	// Keep it off in production; clients then only see the log side.
	Diagnostic bool
}

// Table is an ordered route table with a default fallback.
type Table struct {
	cfg    Config
	logger *slog.Logger

	routes         []route
	defaultHandler HandlerFunc
}

// NewTable creates an empty table.
func NewTable(cfg Config, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = envelope.DefaultRoutingKey
	}
	return &Table{
		cfg:    cfg,
		logger: logger,
	}
}

// RoutingKey returns the envelope field used for dispatch.
func (t *Table) RoutingKey() string {
	return t.cfg.RoutingKey
}

// Handle registers a route. Registration order is precedence: when two
// patterns match the same action type, the later registration wins.
func (t *Table) Handle(pattern Pattern, handler HandlerFunc) {
	t.routes = append(t.routes, route{pattern: pattern, handler: handler})
}

// Default sets the fallback handler invoked when no route matches or
// the routing key is absent.
func (t *Table) Default(handler HandlerFunc) {
	t.defaultHandler = handler
}

// Clone returns a table with its own copy of the routes, so a derived
// table can extend and override without mutating the base.
func (t *Table) Clone() *Table {
	clone := &Table{
		cfg:            t.cfg,
		logger:         t.logger,
		routes:         make([]route, len(t.routes)),
		defaultHandler: t.defaultHandler,
	}
	copy(clone.routes, t.routes)
	return clone
}

// Dispatch routes one envelope to the matching handler, or to the
// default handler when the routing key is absent or nothing matches.
// Handler faults never escape: they are contained, the session is
// refreshed, and in diagnostic mode the failure is echoed back to the
// sender as an ERROR envelope.
func (t *Table) Dispatch(ctx context.Context, p Peer, env envelope.Envelope) {
	action := env.Action(t.cfg.RoutingKey)

	if action == "" {
		// Missing the routing key entirely; hand straight to the
		// default handler.
		t.logInbound(p, env, "", false)
		t.invoke(ctx, p, env, t.defaultHandler)
		return
	}

	// Reverse scan: later registrations override earlier ones.
	var handler HandlerFunc
	for i := len(t.routes) - 1; i >= 0; i-- {
		if t.routes[i].pattern.Match(action) {
			handler = t.routes[i].handler
			break
		}
	}

	if handler == nil {
		t.logInbound(p, env, action, false)
		t.invoke(ctx, p, env, t.defaultHandler)
		return
	}

	t.logInbound(p, env, action, true)
	t.invoke(ctx, p, env, handler)
}

// invoke runs one handler inside the containment boundary.
func (t *Table) invoke(ctx context.Context, p Peer, env envelope.Envelope, handler HandlerFunc) {
	if handler == nil {
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
			}
		}()
		return handler(ctx, p, env)
	}()
	if err == nil {
		return
	}

	// Refresh defensively before reporting; the handler may have died
	// mid-mutation.
	if rerr := p.Refresh(ctx); rerr != nil {
		t.logger.Warn("session refresh after handler fault failed", "error", rerr)
	}

	meta := p.Meta()
	t.logger.Error("handler fault",
		"action", env.Action(t.cfg.RoutingKey),
		"user_id", meta.UserID,
		"user_ip", meta.UserIP,
		"path", meta.Path,
		"error", err,
	)

	if t.cfg.Diagnostic {
		serr := p.SendAction(ctx, envelope.Error, map[string]any{
			"success": false,
			"errors":  []string{err.Error()},
			"details": err.Error(),
		})
		if serr != nil {
			t.logger.Warn("failed to send error envelope", "error", serr)
		}
	}
}

// logInbound traces a received message for flow debugging.
func (t *Table) logInbound(p Peer, env envelope.Envelope, action string, known bool) {
	t.logger.Debug("recv",
		"action", action,
		"known", known,
		"conn", p.Meta().ID,
		"fields", len(env),
	)
}
