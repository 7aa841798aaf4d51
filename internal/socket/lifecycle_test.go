package socket

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Monadical-SAS/socketrouter/internal/envelope"
	"github.com/Monadical-SAS/socketrouter/internal/registry"
	"github.com/Monadical-SAS/socketrouter/internal/session"
	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

type captureSender struct {
	accepted bool
	got      [][]byte
}

func (s *captureSender) Send(data []byte) error {
	s.got = append(s.got, data)
	return nil
}

func (s *captureSender) Accept() error {
	s.accepted = true
	return nil
}

func (s *captureSender) envelopes(t *testing.T) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, len(s.got))
	for _, data := range s.got {
		var env map[string]any
		require.NoError(t, json.Unmarshal(data, &env))
		out = append(out, env)
	}
	return out
}

type fakeSweeps struct {
	scopes []registry.Query
}

func (f *fakeSweeps) CleanupStale(ctx context.Context, scope registry.Query) (int, error) {
	f.scopes = append(f.scopes, scope)
	return 0, nil
}

type fixture struct {
	store    *registry.Memory
	sessions *session.Memory
	channels *transport.Local
	sweeps   *fakeSweeps
	life     *Lifecycle
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    registry.NewMemory(),
		sessions: session.NewMemory(),
		channels: transport.NewLocal(nil),
		sweeps:   &fakeSweeps{},
	}
	f.life = New(cfg, f.store, f.sessions, f.channels, f.sweeps, nil)
	return f
}

// dialClient registers a capture channel and runs the connect path.
func (f *fixture) dialClient(t *testing.T, info HandshakeInfo) (*Client, *captureSender) {
	t.Helper()
	if info.Handle == "" {
		info.Handle = transport.NewHandle()
	}
	sender := &captureSender{}
	f.channels.Register(info.Handle, sender)

	c, err := f.life.OnConnect(context.Background(), info)
	require.NoError(t, err)
	return c, sender
}

func TestConnectAttachesRecordAndAccepts(t *testing.T) {
	f := newFixture(t, Config{})

	c, sender := f.dialClient(t, HandshakeInfo{
		Path:     "/table/1234",
		PeerAddr: "192.0.2.10:51234",
	})

	assert.True(t, sender.accepted, "handshake completed after record attach")

	meta := c.Meta()
	assert.NotEmpty(t, meta.ID)
	assert.True(t, meta.Active)
	assert.Equal(t, "/table/1234", meta.Path)
	assert.Equal(t, "192.0.2.10", meta.UserIP, "port stripped from peer address")
	assert.True(t, meta.Anonymous())

	stored, ok, err := f.store.GetByHandle(context.Background(), c.Handle())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, meta.ID, stored.ID)
}

func TestConnectPrefersRealIP(t *testing.T) {
	f := newFixture(t, Config{})

	c, _ := f.dialClient(t, HandshakeInfo{
		Path:     "/table/1234",
		PeerAddr: "10.0.0.1:1234",
		RealIP:   "203.0.113.9",
	})

	assert.Equal(t, "203.0.113.9", c.Meta().UserIP)
}

func TestConnectResolvesSession(t *testing.T) {
	f := newFixture(t, Config{})
	f.sessions.Put("sess-1", 5)

	c, _ := f.dialClient(t, HandshakeInfo{
		Path:      "/table/1234",
		SessionID: "sess-1",
	})

	meta := c.Meta()
	assert.Equal(t, int64(5), meta.UserID)
	assert.False(t, meta.Anonymous())
}

func TestDisconnectRemovesRecordOnce(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	c, _ := f.dialClient(t, HandshakeInfo{Path: "/t/1"})
	id := c.Meta().ID

	require.NoError(t, f.life.OnDisconnect(ctx, c, CloseInfo{Code: 1001}))

	_, ok, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "no residual record after disconnect")

	// The final refresh inside disconnect must not resurrect the row,
	// and a duplicate disconnect is a no-op.
	all, err := f.store.List(ctx, registry.Query{})
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, f.life.OnDisconnect(ctx, c, CloseInfo{Code: 1001}))
}

func TestDisconnectHookObservesFinalRecord(t *testing.T) {
	f := newFixture(t, Config{})

	var hookCalls int
	f.life.SetDisconnectHook(func(ctx context.Context, c *Client, info CloseInfo) {
		hookCalls++
		assert.Equal(t, CloseAbnormal, info.Code)
	})

	c, _ := f.dialClient(t, HandshakeInfo{Path: "/t/1"})
	require.NoError(t, f.life.OnDisconnect(context.Background(), c, CloseInfo{Code: CloseAbnormal}))
	require.NoError(t, f.life.OnDisconnect(context.Background(), c, CloseInfo{Code: CloseAbnormal}))

	assert.Equal(t, 1, hookCalls)
}

func TestHelloRoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	f.sessions.Put("sess-1", 5)
	ctx := context.Background()

	c, sender := f.dialClient(t, HandshakeInfo{
		Path:      "/table/1234",
		SessionID: "sess-1",
		RealIP:    "203.0.113.9",
	})
	sender.got = nil

	require.NoError(t, f.life.OnReceive(ctx, c, []byte(`{"type":"HELLO"}`)))

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	reply := envs[0]
	assert.Equal(t, envelope.GotHello, reply["type"])
	assert.Equal(t, float64(5), reply["user_id"])
	assert.Equal(t, c.Meta().ID, reply["connection_id"])
	assert.Equal(t, "/table/1234", reply["path"])
	assert.Equal(t, "203.0.113.9", reply["user_ip"])
	assert.Contains(t, reply, "last_ping")
	assert.Contains(t, reply, envelope.TimestampKey)
}

func TestHelloTriggersScopedCleanup(t *testing.T) {
	f := newFixture(t, Config{})
	f.sessions.Put("sess-1", 5)
	ctx := context.Background()

	c, _ := f.dialClient(t, HandshakeInfo{
		Path:      "/table/1234",
		SessionID: "sess-1",
	})

	require.NoError(t, f.life.OnReceive(ctx, c, []byte(`{"type":"HELLO"}`)))

	require.Len(t, f.sweeps.scopes, 1)
	scope := f.sweeps.scopes[0]
	assert.Equal(t, int64(5), scope.UserID)
	assert.Equal(t, "/table/1234", scope.Path)
	assert.Equal(t, c.Meta().ID, scope.ExcludeID, "own socket excluded from its sweep")
}

func TestAnonymousHelloSkipsCleanup(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	c, sender := f.dialClient(t, HandshakeInfo{Path: "/table/1234"})
	sender.got = nil

	require.NoError(t, f.life.OnReceive(ctx, c, []byte(`{"type":"HELLO"}`)))

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, envelope.GotHello, envs[0]["type"])
	assert.Nil(t, envs[0]["user_id"])
	assert.Empty(t, f.sweeps.scopes, "anonymous HELLO never sweeps")
}

func TestPingResponseRefreshesWithoutReply(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	c, sender := f.dialClient(t, HandshakeInfo{Path: "/t/1"})
	sender.got = nil

	// Flip to pending, then confirm liveness.
	_, err := f.store.MarkPending(ctx, registry.Query{})
	require.NoError(t, err)

	require.NoError(t, f.life.OnReceive(ctx, c, []byte(`{"type":"PING_RESPONSE"}`)))

	assert.Empty(t, sender.got, "liveness confirmations are not echoed")
	stored, ok, err := f.store.Get(ctx, c.Meta().ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Active, "pending flips back to active on refresh")
}

func TestUnknownActionGetsErrorReply(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	c, sender := f.dialClient(t, HandshakeInfo{Path: "/t/1"})
	sender.got = nil

	require.NoError(t, f.life.OnReceive(ctx, c, []byte(`{"type":"DO_THE_THING"}`)))

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	reply := envs[0]
	assert.Equal(t, envelope.Error, reply["type"])
	assert.Equal(t, "Unknown action: DO_THE_THING", reply["details"])
	assert.Contains(t, reply, envelope.TimestampKey)
}

func TestMalformedPayloadFailsFast(t *testing.T) {
	f := newFixture(t, Config{})
	c, sender := f.dialClient(t, HandshakeInfo{Path: "/t/1"})
	sender.got = nil

	for _, raw := range []string{`"HELLO"`, `[1]`, `not json`} {
		err := f.life.OnReceive(context.Background(), c, []byte(raw))
		assert.Error(t, err, "payload %q", raw)
	}
	assert.Empty(t, sender.got)
}

func TestLoginRequiredSendsReconnect(t *testing.T) {
	f := newFixture(t, Config{LoginRequired: true})
	f.sessions.Put("sess-1", 5)
	ctx := context.Background()

	c, sender := f.dialClient(t, HandshakeInfo{
		Path:      "/t/1",
		SessionID: "sess-1",
	})
	sender.got = nil

	// Session evaporates server-side mid-connection.
	f.sessions.Forget("sess-1")

	require.NoError(t, f.life.OnReceive(ctx, c, []byte(`{"type":"HELLO"}`)))

	envs := sender.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, envelope.Reconnect, envs[0]["type"])
	assert.Contains(t, envs[0]["details"], "try reconnecting")
	assert.Empty(t, f.sweeps.scopes, "message never reached the route table")
}

func TestRefreshDowngradesErasedSession(t *testing.T) {
	f := newFixture(t, Config{})
	f.sessions.Put("sess-1", 5)
	ctx := context.Background()

	c, _ := f.dialClient(t, HandshakeInfo{
		Path:      "/t/1",
		SessionID: "sess-1",
	})
	assert.Equal(t, int64(5), c.Meta().UserID)

	f.sessions.Forget("sess-1")
	require.NoError(t, c.Refresh(ctx))

	assert.True(t, c.Meta().Anonymous(), "stale user never stays attached")
}

func TestBotClientSendsAreDropped(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	c, err := f.life.connect(ctx, HandshakeInfo{
		Handle: transport.BotHandle("dealer"),
		Path:   "/t/1",
	}, false)
	require.NoError(t, err)

	assert.NoError(t, c.SendAction(ctx, "DEAL", nil))
	assert.NotEmpty(t, c.Meta().ID, "bots still get registry records")
}
