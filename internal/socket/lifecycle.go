package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/gorilla/websocket"

	"github.com/Monadical-SAS/socketrouter/internal/envelope"
	"github.com/Monadical-SAS/socketrouter/internal/registry"
	"github.com/Monadical-SAS/socketrouter/internal/router"
	"github.com/Monadical-SAS/socketrouter/internal/session"
	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

// CloseAbnormal is the close code a server sends when it drops a
// connection under resource exhaustion.
const CloseAbnormal = websocket.CloseAbnormalClosure

// Config holds per-endpoint lifecycle settings.
type Config struct {
	// RoutingKey is the envelope field that selects a handler.
	RoutingKey string

	// LoginRequired short-circuits unauthenticated traffic with a
	// RECONNECT instruction instead of routing it.
	LoginRequired bool

	// Diagnostic echoes handler failure detail back to clients.
	Diagnostic bool
}

// HandshakeInfo is what the transport knows about a connection at
// connect time.
type HandshakeInfo struct {
	Handle    transport.Handle
	Path      string
	SessionID string
	PeerAddr  string // transport peer address, host:port
	RealIP    string // X-Real-IP header value, empty when absent
}

// CloseInfo is the disconnect metadata delivered by the transport.
type CloseInfo struct {
	Code   int
	Reason string
	Method string
	Order  int64
}

// Sweeps is the slice of the stale sweeper the lifecycle triggers from
// HELLO.
type Sweeps interface {
	CleanupStale(ctx context.Context, scope registry.Query) (int, error)
}

// ConnectHook runs after the registry record is attached, before the
// handshake completes.
type ConnectHook func(ctx context.Context, c *Client) error

// DisconnectHook runs after the registry record is deleted.
type DisconnectHook func(ctx context.Context, c *Client, info CloseInfo)

// Lifecycle orchestrates connect, disconnect and receive events for an
// endpoint, running the route table on inbound envelopes.
type Lifecycle struct {
	cfg       Config
	store     registry.Store
	sessions  session.Store
	transport transport.Transport
	sweeps    Sweeps
	logger    *slog.Logger

	table *router.Table

	onConnect    ConnectHook
	onDisconnect DisconnectHook
}

// New wires a lifecycle with the built-in HELLO and PING_RESPONSE
// routes registered.
func New(
	cfg Config,
	store registry.Store,
	sessions session.Store,
	t transport.Transport,
	sweeps Sweeps,
	logger *slog.Logger,
) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = envelope.DefaultRoutingKey
	}

	l := &Lifecycle{
		cfg:       cfg,
		store:     store,
		sessions:  sessions,
		transport: t,
		sweeps:    sweeps,
		logger:    logger,
	}

	table := router.NewTable(router.Config{
		RoutingKey: cfg.RoutingKey,
		Diagnostic: cfg.Diagnostic,
	}, logger)
	table.Handle(router.Exact(envelope.PingResponse), l.onPingResponse)
	// The original protocol replied to pings with the PING type itself;
	// accept it as a liveness confirmation too.
	table.Handle(router.Exact(envelope.Ping), l.onPingResponse)
	table.Handle(router.Exact(envelope.Hello), l.onHello)
	table.Default(l.defaultRoute)
	l.table = table

	return l
}

// Table exposes the route table so downstream code can register
// additional routes; later registrations take precedence.
func (l *Lifecycle) Table() *router.Table {
	return l.table
}

// SetConnectHook installs the connect extension point.
func (l *Lifecycle) SetConnectHook(h ConnectHook) {
	l.onConnect = h
}

// SetDisconnectHook installs the disconnect extension point.
func (l *Lifecycle) SetDisconnectHook(h DisconnectHook) {
	l.onDisconnect = h
}

// OnConnect attaches a registry record for a fresh connection and
// completes the transport handshake.
func (l *Lifecycle) OnConnect(ctx context.Context, info HandshakeInfo) (*Client, error) {
	return l.connect(ctx, info, true)
}

// connect is OnConnect minus the handshake completion; only tests skip
// it, a real connection left half-open never receives traffic.
func (l *Lifecycle) connect(ctx context.Context, info HandshakeInfo, accept bool) (*Client, error) {
	c := &Client{
		l:         l,
		handle:    info.Handle,
		path:      info.Path,
		sessionID: info.SessionID,
		userIP:    clientIP(info),
	}

	if err := c.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("attach socket record: %w", err)
	}

	if l.onConnect != nil {
		if err := l.onConnect(ctx, c); err != nil {
			return nil, err
		}
	}

	if accept {
		if err := l.transport.Accept(info.Handle); err != nil {
			return nil, fmt.Errorf("accept handshake: %w", err)
		}
	}

	meta := c.Meta()
	l.logger.Debug("socket connected",
		"conn", meta.ID,
		"user_id", meta.UserID,
		"path", meta.Path,
		"user_ip", meta.UserIP,
	)
	return c, nil
}

// clientIP prefers the real-IP header over the transport peer address.
func clientIP(info HandshakeInfo) string {
	if info.RealIP != "" {
		return info.RealIP
	}
	host, _, err := net.SplitHostPort(info.PeerAddr)
	if err != nil {
		return info.PeerAddr
	}
	return host
}

// OnReceive parses one inbound message and routes it. Malformed
// payloads are a protocol violation and fail fast; they are never
// silently dropped.
func (l *Lifecycle) OnReceive(ctx context.Context, c *Client, raw []byte) error {
	env, err := envelope.Decode(raw)
	if err != nil {
		return err
	}

	if l.cfg.LoginRequired && c.resolveUser(ctx) == 0 {
		// The session store no longer knows this connection; tell the
		// frontend to re-establish instead of routing.
		return c.SendAction(ctx, envelope.Reconnect, map[string]any{
			"details": "No session was attached to socket, the frontend should try reconnecting.",
		})
	}

	l.table.Dispatch(ctx, c, env)
	return nil
}

// OnDisconnect refreshes session info one final time, captures the
// record, and deletes it. Delete is total; a second disconnect for the
// same connection is a no-op.
func (l *Lifecycle) OnDisconnect(ctx context.Context, c *Client, info CloseInfo) error {
	if !c.markClosed() {
		return nil
	}

	if err := c.Refresh(ctx); err != nil {
		l.logger.Warn("final session refresh failed", "error", err)
	}

	meta := c.Meta()
	if _, err := l.store.Delete(ctx, meta.ID); err != nil {
		return fmt.Errorf("delete socket record: %w", err)
	}

	if l.onDisconnect != nil {
		l.onDisconnect(ctx, c, info)
	}

	if info.Code == CloseAbnormal {
		l.reportAbnormalClose(meta, info)
	}

	l.logger.Debug("socket disconnected", "conn", meta.ID, "code", info.Code)
	return nil
}

// reportAbnormalClose records a server-forced close in detail. Dropping
// an authenticated user's socket is worse than dropping a spectator's,
// so the severity differs.
func (l *Lifecycle) reportAbnormalClose(meta registry.Connection, info CloseInfo) {
	attrs := []any{
		"code", info.Code,
		"path", meta.Path,
		"method", info.Method,
		"order", info.Order,
		"handle", string(meta.Handle),
		"last_ping", meta.LastPing,
		"user_id", meta.UserID,
		"user_ip", meta.UserIP,
	}
	if meta.Anonymous() {
		l.logger.Debug("closed websocket due to overloaded server", attrs...)
	} else {
		l.logger.Error("closed websocket due to overloaded server", attrs...)
	}
}
