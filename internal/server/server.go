package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Monadical-SAS/socketrouter/internal/session"
	"github.com/Monadical-SAS/socketrouter/internal/socket"
	"github.com/Monadical-SAS/socketrouter/internal/transport"
)

// Config holds listener settings.
type Config struct {
	ListenAddr       string
	WSPath           string
	CookieName       string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

// Server accepts websocket connections and runs their read loops.
type Server struct {
	cfg       Config
	lifecycle *socket.Lifecycle
	channels  *transport.Local
	logger    *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New wires a server over the given lifecycle and channel registry.
func New(cfg Config, lifecycle *socket.Lifecycle, channels *transport.Local, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		lifecycle: lifecycle,
		channels:  channels,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: cfg.HandshakeTimeout,
			// The socket protocol carries its own session check; the
			// page origin is not part of it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WSPath, s.connectHandler)
	s.httpSrv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return s
}

// Start runs the HTTP listener until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("websocket server listening",
		"addr", s.cfg.ListenAddr,
		"path", s.cfg.WSPath,
	)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down websocket server")
	return s.httpSrv.Shutdown(ctx)
}

// connectHandler upgrades one request and runs its connection to
// completion.
func (s *Server) connectHandler(w http.ResponseWriter, r *http.Request) {
	info := socket.HandshakeInfo{
		Handle:    transport.NewHandle(),
		Path:      r.URL.Path,
		SessionID: session.IDFromRequest(r, s.cfg.CookieName),
		PeerAddr:  r.RemoteAddr,
		RealIP:    r.Header.Get("X-Real-IP"),
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}

	peer := transport.NewPeer(conn, s.cfg.WriteTimeout)
	s.channels.Register(info.Handle, peer)

	ctx := context.Background()
	client, err := s.lifecycle.OnConnect(ctx, info)
	if err != nil {
		s.logger.Error("connect failed", "error", err, "handle", string(info.Handle))
		s.channels.Unregister(info.Handle)
		_ = peer.Close(websocket.CloseInternalServerErr, "connect failed")
		return
	}

	s.readLoop(ctx, client, conn, info.Handle)
}

// readLoop dispatches inbound messages in arrival order until the
// connection closes.
func (s *Server) readLoop(ctx context.Context, client *socket.Client, conn *websocket.Conn, h transport.Handle) {
	defer s.channels.Unregister(h)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			info := socket.CloseInfo{
				Code:   closeCode(err),
				Reason: err.Error(),
				Method: http.MethodGet,
			}
			if derr := s.lifecycle.OnDisconnect(ctx, client, info); derr != nil {
				s.logger.Warn("disconnect cleanup failed", "error", derr)
			}
			return
		}

		if err := s.lifecycle.OnReceive(ctx, client, data); err != nil {
			// Protocol violation: fatal to this message only.
			s.logger.Error("dropped malformed message",
				"conn", client.Meta().ID,
				"error", err,
			)
		}
	}
}

// closeCode extracts the close code from a read error. Unclean
// teardowns surface as an abnormal close.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
