package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Monadical-SAS/socketrouter/internal/envelope"
	"github.com/Monadical-SAS/socketrouter/internal/group"
	"github.com/Monadical-SAS/socketrouter/internal/registry"
	"github.com/Monadical-SAS/socketrouter/internal/session"
	"github.com/Monadical-SAS/socketrouter/internal/socket"
	"github.com/Monadical-SAS/socketrouter/internal/sweeper"
	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

type testStack struct {
	store    *registry.Memory
	sessions *session.Memory
	ts       *httptest.Server
	url      string
}

// newTestStack stands up a full server over in-memory backends, served
// through httptest instead of a real listener.
func newTestStack(t *testing.T, cfg socket.Config) *testStack {
	t.Helper()

	store := registry.NewMemory()
	sessions := session.NewMemory()
	channels := transport.NewLocal(nil)
	groups := group.NewAddressor(channels, cfg.RoutingKey, nil)
	sw := sweeper.New(sweeper.DefaultConfig(), store, groups, nil)
	lifecycle := socket.New(cfg, store, sessions, channels, sw, nil)

	srv := New(Config{
		WSPath:       "/ws",
		WriteTimeout: time.Second,
	}, lifecycle, channels, nil)

	ts := httptest.NewServer(http.HandlerFunc(srv.connectHandler))
	t.Cleanup(ts.Close)

	return &testStack{
		store:    store,
		sessions: sessions,
		ts:       ts,
		url:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (s *testStack) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendAction(t *testing.T, conn *websocket.Conn, actionType string) {
	t.Helper()
	data, err := json.Marshal(map[string]any{envelope.DefaultRoutingKey: actionType})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestServerHelloRoundTrip(t *testing.T) {
	stack := newTestStack(t, socket.Config{})
	conn := stack.dial(t, nil)

	sendAction(t, conn, envelope.Hello)

	reply := readEnvelope(t, conn)
	assert.Equal(t, envelope.GotHello, reply["type"])
	assert.Contains(t, reply, envelope.TimestampKey)
	assert.Contains(t, reply, "connection_id")

	conns, err := stack.store.List(context.Background(), registry.Query{})
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.True(t, conns[0].Active)
}

func TestServerSessionCookieResolvesUser(t *testing.T) {
	stack := newTestStack(t, socket.Config{})
	stack.sessions.Put("sess-42", 42)

	header := http.Header{}
	header.Add("Cookie", session.DefaultCookieName+"=sess-42")
	conn := stack.dial(t, header)

	sendAction(t, conn, envelope.Hello)

	reply := readEnvelope(t, conn)
	assert.Equal(t, envelope.GotHello, reply["type"])
	assert.Equal(t, float64(42), reply["user_id"])
}

func TestServerUnknownActionReturnsError(t *testing.T) {
	stack := newTestStack(t, socket.Config{})
	conn := stack.dial(t, nil)

	sendAction(t, conn, "NOT_A_THING")

	reply := readEnvelope(t, conn)
	assert.Equal(t, envelope.Error, reply["type"])
	assert.Equal(t, "Unknown action: NOT_A_THING", reply["details"])
}

func TestServerSurvivesMalformedMessage(t *testing.T) {
	stack := newTestStack(t, socket.Config{})
	conn := stack.dial(t, nil)

	// Garbage is logged and dropped; the connection stays usable.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	sendAction(t, conn, envelope.Hello)
	reply := readEnvelope(t, conn)
	assert.Equal(t, envelope.GotHello, reply["type"])
}

func TestServerCleansUpOnClose(t *testing.T) {
	stack := newTestStack(t, socket.Config{})
	conn := stack.dial(t, nil)

	sendAction(t, conn, envelope.Hello)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	))
	conn.Close()

	assert.Eventually(t, func() bool {
		conns, err := stack.store.List(context.Background(), registry.Query{})
		return err == nil && len(conns) == 0
	}, 2*time.Second, 20*time.Millisecond, "registry record removed after close")
}

func TestServerLoginRequiredWithoutSession(t *testing.T) {
	stack := newTestStack(t, socket.Config{LoginRequired: true})
	conn := stack.dial(t, nil)

	sendAction(t, conn, envelope.Hello)

	reply := readEnvelope(t, conn)
	assert.Equal(t, envelope.Reconnect, reply["type"])
}
