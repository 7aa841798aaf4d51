package group

import (
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"sort"
	"time"

	"github.com/Monadical-SAS/socketrouter/internal/envelope"
	"github.com/Monadical-SAS/socketrouter/internal/registry"
	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

// Addressor derives broadcast groups from registry snapshots.
type Addressor struct {
	transport  transport.Transport
	routingKey string
	logger     *slog.Logger
}

// NewAddressor creates a group addressor delivering through the given
// transport.
func NewAddressor(t transport.Transport, routingKey string, logger *slog.Logger) *Addressor {
	if logger == nil {
		logger = slog.Default()
	}
	if routingKey == "" {
		routingKey = envelope.DefaultRoutingKey
	}
	return &Addressor{
		transport:  t,
		routingKey: routingKey,
		logger:     logger,
	}
}

// Group is an ephemeral addressable set of connections.
type Group struct {
	a       *Addressor
	id      string
	members []transport.Handle // addressable members only
	empty   bool
}

// FromConnections builds a Group from a membership snapshot. An empty
// snapshot yields the empty-group sentinel, which accepts and silently
// drops all sends; it must never address a real group, since an
// empty-named group could collide with another empty set.
func (a *Addressor) FromConnections(conns []registry.Connection) *Group {
	if len(conns) == 0 {
		return &Group{a: a, empty: true}
	}

	names := make([]string, 0, len(conns))
	var members []transport.Handle
	for _, c := range conns {
		names = append(names, string(c.Handle))
		if c.Handle.Addressable() {
			members = append(members, c.Handle)
		}
	}

	// Group id is the hash of the sorted handle names, so the same
	// membership always maps to the same group.
	sort.Strings(names)
	sum := md5.New()
	for _, name := range names {
		sum.Write([]byte(name))
	}

	return &Group{
		a:       a,
		id:      hex.EncodeToString(sum.Sum(nil)),
		members: members,
	}
}

// ID returns the derived group identity, "" for the empty sentinel.
func (g *Group) ID() string {
	return g.id
}

// Size returns the number of addressable members.
func (g *Group) Size() int {
	return len(g.members)
}

// Empty reports whether this is the empty-group sentinel.
func (g *Group) Empty() bool {
	return g.empty
}

// Broadcast stamps one delivery timestamp, serializes once, and fans
// the envelope out to every addressable member. Returns how many
// deliveries succeeded.
func (g *Group) Broadcast(env envelope.Envelope) (int, error) {
	if g.empty || len(g.members) == 0 {
		return 0, nil
	}

	env.Stamp(time.Now())
	data, err := env.Encode()
	if err != nil {
		return 0, err
	}

	g.a.logger.Debug("broadcast",
		"group", g.id,
		"members", len(g.members),
		"action", env.Action(g.a.routingKey),
	)
	return g.BroadcastRaw(data), nil
}

// BroadcastAction broadcasts an envelope built from an action type and
// payload fields.
func (g *Group) BroadcastAction(actionType string, fields map[string]any) (int, error) {
	return g.Broadcast(envelope.New(g.a.routingKey, actionType, fields))
}

// BroadcastRaw delivers pre-serialized bytes to every addressable
// member. A failed delivery is logged and skipped; it never aborts the
// rest of the fan-out.
func (g *Group) BroadcastRaw(data []byte) int {
	if g.empty {
		return 0
	}

	delivered := 0
	for _, h := range g.members {
		if err := g.a.transport.Send(h, data); err != nil {
			// Member may have disconnected between snapshot and send.
			g.a.logger.Warn("group delivery failed",
				"group", g.id,
				"handle", string(h),
				"error", err,
			)
			continue
		}
		delivered++
	}
	return delivered
}
