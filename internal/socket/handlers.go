package socket

import (
	"context"
	"fmt"

	"github.com/Monadical-SAS/socketrouter/internal/envelope"
	"github.com/Monadical-SAS/socketrouter/internal/registry"
	"github.com/Monadical-SAS/socketrouter/internal/router"
)

// onHello answers the frontend's initial HELLO, confirming the
// connection and its round-trip time.
func (l *Lifecycle) onHello(ctx context.Context, p router.Peer, env envelope.Envelope) error {
	if err := p.Refresh(ctx); err != nil {
		return err
	}
	meta := p.Meta()

	var userID any
	if !meta.Anonymous() {
		userID = meta.UserID
	}
	if err := p.SendAction(ctx, envelope.GotHello, map[string]any{
		"user_id":       userID,
		"connection_id": meta.ID,
		"path":          meta.Path,
		"last_ping":     meta.LastPing.UnixMilli(),
		"user_ip":       meta.UserIP,
	}); err != nil {
		return err
	}

	// The user just loaded or refreshed a page: confirm any other
	// sockets they own on the same path are still alive. Never
	// triggered for anonymous connections; pinging every anon socket
	// on a path would storm the broadcast and thrash us with the
	// simultaneous responses.
	if meta.Anonymous() {
		return nil
	}
	_, err := l.sweeps.CleanupStale(ctx, registry.Query{
		UserID:    meta.UserID,
		Path:      meta.Path,
		ExcludeID: meta.ID,
	})
	return err
}

// onPingResponse confirms the socket is still alive when the frontend
// answers a ping.
func (l *Lifecycle) onPingResponse(ctx context.Context, p router.Peer, env envelope.Envelope) error {
	return p.Refresh(ctx)
}

// defaultRoute handles messages that match no route pattern: reply with
// an ERROR naming the unrecognized action and log it.
func (l *Lifecycle) defaultRoute(ctx context.Context, p router.Peer, env envelope.Envelope) error {
	action := env.Action(l.cfg.RoutingKey)
	l.logger.Error("unrecognized socket message",
		"action", action,
		"conn", p.Meta().ID,
	)
	return p.SendAction(ctx, envelope.Error, map[string]any{
		"details": fmt.Sprintf("Unknown action: %s", action),
	})
}
