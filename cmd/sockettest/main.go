// sockettest directs live websocket checks at a running socketd
// instance: a HELLO round trip, a no-PING-echo check, and an optional
// ping-pong load test.
//
// Usage: go run ./cmd/sockettest --url ws://127.0.0.1:8000/ws --connections 10
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Monadical-SAS/socketrouter/internal/envelope"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8000/ws", "websocket endpoint")
	connections := flag.Int("connections", 10, "concurrent connections for the load test")
	duration := flag.Duration("duration", 4*time.Second, "how long to play ping-pong")
	timeout := flag.Duration("timeout", 5*time.Second, "per-read timeout")
	verbose := flag.Bool("verbose", false, "print every message")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := checkHello(*url, *timeout, *verbose); err != nil {
		logger.Error("HELLO round trip failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HELLO round trip ok")

	if err := checkNoPingEcho(*url, *timeout); err != nil {
		logger.Error("no-ping-echo check failed", "error", err)
		os.Exit(1)
	}
	logger.Info("no ping echo ok")

	if *connections > 0 {
		total, err := loadTest(*url, *connections, *duration, *timeout)
		if err != nil {
			logger.Error("load test failed", "error", err)
			os.Exit(1)
		}
		logger.Info("load test done",
			"connections", *connections,
			"duration", *duration,
			"round_trips", total,
		)
	}
}

func dial(url string, timeout time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

func sendAction(conn *websocket.Conn, actionType string) error {
	data, err := json.Marshal(map[string]any{envelope.DefaultRoutingKey: actionType})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// recvEnvelope blocks for one message, returning nil on read timeout.
func recvEnvelope(conn *websocket.Conn, timeout time.Duration) (map[string]any, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, nil
		}
		return nil, err
	}

	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return env, nil
}

// checkHello confirms the server answers HELLO with GOT_HELLO.
func checkHello(url string, timeout time.Duration, verbose bool) error {
	conn, err := dial(url, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := sendAction(conn, envelope.Hello); err != nil {
		return err
	}

	env, err := recvEnvelope(conn, timeout)
	if err != nil {
		return err
	}
	if env == nil {
		return fmt.Errorf("no HELLO response within %s of connecting", timeout)
	}
	if verbose {
		fmt.Printf("got: %v\n", env)
	}
	if got := env[envelope.DefaultRoutingKey]; got != envelope.GotHello {
		return fmt.Errorf("expected %s response, got %v", envelope.GotHello, got)
	}
	if _, ok := env[envelope.TimestampKey]; !ok {
		return fmt.Errorf("response missing %s field", envelope.TimestampKey)
	}
	return nil
}

// checkNoPingEcho confirms a socket that sends a ping reply does not
// get a ping back on the same socket.
func checkNoPingEcho(url string, timeout time.Duration) error {
	conn, err := dial(url, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := sendAction(conn, envelope.PingResponse); err != nil {
		return err
	}

	env, err := recvEnvelope(conn, timeout)
	if err != nil {
		return err
	}
	if env != nil {
		return fmt.Errorf("got a response back on the socket a ping reply was sent on: %v", env)
	}
	return nil
}

// loadTest plays HELLO ping-pong over n concurrent connections.
func loadTest(url string, n int, duration, timeout time.Duration) (int64, error) {
	var roundTrips atomic.Int64
	deadline := time.Now().Add(duration)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			conn, err := dial(url, timeout)
			if err != nil {
				return err
			}
			defer conn.Close()

			for time.Now().Before(deadline) {
				if err := sendAction(conn, envelope.Hello); err != nil {
					return err
				}
				env, err := recvEnvelope(conn, timeout)
				if err != nil {
					return err
				}
				if env == nil {
					return fmt.Errorf("no response from backend within %s", timeout)
				}
				roundTrips.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return roundTrips.Load(), err
	}
	return roundTrips.Load(), nil
}
