package match

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/matchrelay/internal/config"
	"github.com/cory-johannsen/matchrelay/internal/scene"
	"github.com/cory-johannsen/matchrelay/internal/transport"
)

const waitFor = 2 * time.Second

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Listener.Host = "127.0.0.1"
	cfg.Listener.WriteTimeout = time.Second
	cfg.Matchmaking.ScanInterval = 10 * time.Millisecond
	cfg.Matchmaking.LegacyPairing = false
	return cfg
}

// testCatalog holds a 2..4 duel scene at index 0, an unmatched lobby at 1 and
// a 3..3 trio at 2.
func testCatalog(t *testing.T) *scene.Catalog {
	t.Helper()
	cat, err := scene.NewCatalog([]*scene.Scene{
		{
			Name: "duel",
			Room: &scene.RoomPolicy{MinimumPlayers: 2, MaximumPlayers: 4},
			Broadcasts: []scene.Broadcast{
				{Name: "Begin", Code: 1, Payload: "fight", Receiver: scene.ReceiverAll},
			},
		},
		{Name: "lobby"},
		{Name: "trio", Room: &scene.RoomPolicy{MinimumPlayers: 3, MaximumPlayers: 3}},
	})
	require.NoError(t, err)
	return cat
}

func newTestServer(t *testing.T, cfg config.Config, opts ...Option) *Server {
	t.Helper()
	srv := NewServer(cfg, testCatalog(t), zaptest.NewLogger(t), opts...)
	t.Cleanup(func() {
		if srv.Running() {
			_ = srv.Stop()
		}
		for _, r := range srv.rooms.Drain() {
			r.Close()
		}
	})
	return srv
}

// pipeSession returns a session over an in-memory connection. Nothing drains
// its outbox; tests read it with outboxLines.
func pipeSession(t *testing.T, outbox int) *Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return newSession(transport.NewConn(server, 0, time.Second), outbox)
}

// registeredSession adds a pipe session to srv's registry.
func registeredSession(t *testing.T, srv *Server) *Session {
	t.Helper()
	s := pipeSession(t, 16)
	srv.sessions.Add(s)
	return s
}

// outboxLines returns every line currently queued for s.
func outboxLines(s *Session) []string {
	var lines []string
	for {
		select {
		case line := <-s.outbox:
			lines = append(lines, line)
		default:
			return lines
		}
	}
}

// awaitLines collects lines queued for s until n have arrived or waitFor elapses.
func awaitLines(t *testing.T, s *Session, n int) []string {
	t.Helper()
	var lines []string
	timeout := time.After(waitFor)
	for len(lines) < n {
		select {
		case line := <-s.outbox:
			lines = append(lines, line)
		case <-timeout:
			t.Fatalf("got %d lines %q, want %d", len(lines), lines, n)
		}
	}
	return lines
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
