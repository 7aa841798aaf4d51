package group

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Monadical-SAS/socketrouter/internal/envelope"
	"github.com/Monadical-SAS/socketrouter/internal/registry"
	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

// fakeTransport records deliveries per handle and can fail specific
// handles to simulate mid-broadcast disconnects.
type fakeTransport struct {
	sent map[transport.Handle][][]byte
	fail map[transport.Handle]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent: make(map[transport.Handle][][]byte),
		fail: make(map[transport.Handle]bool),
	}
}

func (t *fakeTransport) Send(h transport.Handle, data []byte) error {
	if t.fail[h] {
		return errors.New("peer gone")
	}
	t.sent[h] = append(t.sent[h], data)
	return nil
}

func (t *fakeTransport) Accept(h transport.Handle) error {
	return nil
}

func conns(handles ...string) []registry.Connection {
	out := make([]registry.Connection, 0, len(handles))
	for _, h := range handles {
		out = append(out, registry.Connection{Handle: transport.Handle(h)})
	}
	return out
}

func TestGroupIdentityIsOrderIndependent(t *testing.T) {
	a := NewAddressor(newFakeTransport(), "", nil)

	g1 := a.FromConnections(conns("alpha", "beta", "gamma"))
	g2 := a.FromConnections(conns("gamma", "alpha", "beta"))

	assert.NotEmpty(t, g1.ID())
	assert.Equal(t, g1.ID(), g2.ID(), "same membership, same group")

	g3 := a.FromConnections(conns("alpha", "beta"))
	assert.NotEqual(t, g1.ID(), g3.ID())
}

func TestEmptyGroupSentinel(t *testing.T) {
	ft := newFakeTransport()
	a := NewAddressor(ft, "", nil)

	g := a.FromConnections(nil)
	assert.True(t, g.Empty())
	assert.Empty(t, g.ID())
	assert.Zero(t, g.Size())

	n, err := g.BroadcastAction(envelope.Ping, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, ft.sent)
}

func TestBotHandlesExcludedFromDeliveryAndCount(t *testing.T) {
	ft := newFakeTransport()
	a := NewAddressor(ft, "", nil)

	g := a.FromConnections(conns("alpha", "bot-dealer", "beta"))
	assert.Equal(t, 2, g.Size(), "bots are not addressable members")

	n, err := g.BroadcastAction("DEAL", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, ft.sent, transport.Handle("alpha"))
	assert.Contains(t, ft.sent, transport.Handle("beta"))
	assert.NotContains(t, ft.sent, transport.Handle("bot-dealer"))
}

func TestBotMembershipChangesIdentity(t *testing.T) {
	a := NewAddressor(newFakeTransport(), "", nil)

	with := a.FromConnections(conns("alpha", "bot-dealer"))
	without := a.FromConnections(conns("alpha"))

	assert.NotEqual(t, with.ID(), without.ID(), "bots participate in group identity")
}

func TestBroadcastStampsOnce(t *testing.T) {
	ft := newFakeTransport()
	a := NewAddressor(ft, "", nil)

	g := a.FromConnections(conns("alpha", "beta", "gamma"))
	n, err := g.BroadcastAction("UPDATE", map[string]any{"seq": 1})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Every member sees the identical serialized bytes, including the
	// timestamp.
	var first []byte
	for _, msgs := range ft.sent {
		require.Len(t, msgs, 1)
		if first == nil {
			first = msgs[0]
			env, err := envelope.Decode(first)
			require.NoError(t, err)
			assert.Contains(t, env, envelope.TimestampKey)
			continue
		}
		assert.Equal(t, first, msgs[0])
	}
}

func TestBroadcastSkipsFailedDeliveries(t *testing.T) {
	ft := newFakeTransport()
	ft.fail[transport.Handle("beta")] = true
	a := NewAddressor(ft, "", nil)

	g := a.FromConnections(conns("alpha", "beta", "gamma"))
	n, err := g.BroadcastAction("UPDATE", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, n, "one member gone, the rest still get the message")
	assert.Contains(t, ft.sent, transport.Handle("alpha"))
	assert.Contains(t, ft.sent, transport.Handle("gamma"))
}
