// Package match implements the matchmaking server core: client sessions,
// the matchmaking queue, rooms with their broadcast relay, the scheduler
// that turns queued demand into rooms, and the server that owns them all.
package match

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/matchrelay/internal/transport"
)

// Session is one accepted client connection and its derived state.
// All methods are safe for concurrent use.
type Session struct {
	id          string
	conn        *transport.Conn
	remoteAddr  string
	connectedAt time.Time

	received       atomic.Int64
	sent           atomic.Int64
	lookingForGame atomic.Bool

	outbox chan string
	done   chan struct{}

	mu     sync.Mutex
	room   *Room
	closed bool
}

// newSession wraps conn. Its goroutines are started by the server.
//
// Precondition: conn must be open; outboxSize must be >= 1.
func newSession(conn *transport.Conn, outboxSize int) *Session {
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Session{
		id:          uuid.New().String(),
		conn:        conn,
		remoteAddr:  addr,
		connectedAt: time.Now(),
		outbox:      make(chan string, outboxSize),
		done:        make(chan struct{}),
	}
}

// ID returns the session's wire identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the client's address as seen at accept time.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// ConnectedAt returns the accept time.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// MessagesReceived returns the number of requests processed for this session.
func (s *Session) MessagesReceived() int64 { return s.received.Load() }

// MessagesSent returns the number of lines successfully written to this session.
func (s *Session) MessagesSent() int64 { return s.sent.Load() }

// LookingForGame reports the queue-intent flag. It is bookkeeping only: the
// scheduler considers queue entries, never this flag.
func (s *Session) LookingForGame() bool { return s.lookingForGame.Load() }

// Room returns the session's current room, or nil.
func (s *Session) Room() *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Closed reports whether the session has been purged.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// JoinRoom sets the session's current room. It does not notify the room.
//
// Postcondition: Returns false, leaving the session unchanged, if the
// session is closed or already in a room.
func (s *Session) JoinRoom(r *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.room != nil {
		return false
	}
	s.room = r
	return true
}

// leaveRoom clears the room reference if it still points at r.
func (s *Session) leaveRoom(r *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != r {
		return false
	}
	s.room = nil
	return true
}

// Push queues a line for the writer goroutine without blocking.
//
// Postcondition: Returns ErrSessionClosed after close, ErrOutboxFull when the
// client is not draining its lines, nil otherwise.
func (s *Session) Push(line string) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.outbox <- line:
		return nil
	default:
		return ErrOutboxFull
	}
}

// writeNow writes a line synchronously, bypassing the outbox.
func (s *Session) writeNow(line string) error {
	if err := s.conn.WriteLine(line); err != nil {
		return &ConnectionError{SessionID: s.id, Op: "write", Err: err}
	}
	s.sent.Add(1)
	return nil
}

// drain writes queued lines until the session closes.
//
// Postcondition: Returns nil after close, or a *ConnectionError on write failure.
func (s *Session) drain() error {
	for {
		select {
		case <-s.done:
			return nil
		case line := <-s.outbox:
			if err := s.writeNow(line); err != nil {
				return err
			}
		}
	}
}

// close marks the session closed, stops its writer and closes the connection.
//
// Postcondition: Returns the room the session was in at close time (may be nil)
// and whether this call performed the close.
func (s *Session) close() (*Room, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false
	}
	s.closed = true
	room := s.room
	close(s.done)
	s.mu.Unlock()

	_ = s.conn.Close()
	return room, true
}
