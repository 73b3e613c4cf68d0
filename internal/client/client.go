// Package client is a Go client for the matchmaking line protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/matchrelay/internal/protocol"
	"github.com/cory-johannsen/matchrelay/internal/transport"
)

// ErrClosed is returned by requests made after the connection has ended.
var ErrClosed = errors.New("client closed")

// Client is one connection to a matchmaking server. Requests are safe for
// concurrent use; server lines are delivered in order on Lines.
type Client struct {
	conn      *transport.Conn
	sessionID string
	logger    *zap.Logger

	lines     chan protocol.ServerLine
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Dial connects to addr and waits for the server's WELCOME line.
//
// Precondition: logger must not be nil.
// Postcondition: Returns a connected Client whose SessionID is set, or an error.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Client, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetReadDeadline(deadline)
	}

	conn := transport.NewConn(raw, 0, 10*time.Second)
	first, err := conn.ReadLine()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading welcome: %w", err)
	}
	welcome, err := protocol.ParseServerLine(first)
	if err != nil || welcome.Kind != protocol.KindWelcome || len(welcome.Args) != 1 {
		conn.Close()
		return nil, fmt.Errorf("unexpected greeting %q", first)
	}
	_ = raw.SetReadDeadline(time.Time{})

	c := &Client{
		conn:      conn,
		sessionID: welcome.Args[0],
		logger:    logger.With(zap.String("session", welcome.Args[0])),
		lines:     make(chan protocol.ServerLine, 64),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// SessionID returns the id the server assigned to this connection.
func (c *Client) SessionID() string { return c.sessionID }

// Lines returns the server lines received after WELCOME. The channel is
// closed when the connection ends; Err then reports why.
func (c *Client) Lines() <-chan protocol.ServerLine { return c.lines }

// Err returns the error that ended the connection, or nil while it is open
// or after a clean close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Queue asks to be matched on the scene at index.
func (c *Client) Queue(scene int) error {
	return c.send(protocol.Request{Verb: protocol.VerbQueue, Scene: scene})
}

// Dequeue withdraws from the queue for the scene at index.
func (c *Client) Dequeue(scene int) error {
	return c.send(protocol.Request{Verb: protocol.VerbDequeue, Scene: scene})
}

// Say broadcasts an envelope to every member of the current room.
func (c *Client) Say(name string, code int, payload string) error {
	return c.send(protocol.Request{Verb: protocol.VerbSay, Envelope: protocol.Envelope{Name: name, Code: code, Payload: payload}})
}

// Tell sends an envelope to one member of the current room.
func (c *Client) Tell(sessionID, name string, code int, payload string) error {
	return c.send(protocol.Request{Verb: protocol.VerbTell, Envelope: protocol.Envelope{
		Name: name, Code: code, Payload: payload, Receiver: protocol.ToSession(sessionID),
	}})
}

// Leave leaves the current room.
func (c *Client) Leave() error { return c.send(protocol.Request{Verb: protocol.VerbLeave}) }

// Status asks for the session's queue and room state.
func (c *Client) Status() error { return c.send(protocol.Request{Verb: protocol.VerbStatus}) }

// Ping asks for a PONG.
func (c *Client) Ping() error { return c.send(protocol.Request{Verb: protocol.VerbPing}) }

// Quit asks the server to close the session. The server answers BYE.
func (c *Client) Quit() error { return c.send(protocol.Request{Verb: protocol.VerbQuit}) }

// Close closes the connection and waits for the reader to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) send(req protocol.Request) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.conn.WriteLine(req.Line()); err != nil {
		return fmt.Errorf("sending %s: %w", req.Verb, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.lines)

	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			select {
			case <-c.closing:
				return
			default:
			}
			if !errors.Is(err, net.ErrClosed) {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}
		sl, err := protocol.ParseServerLine(line)
		if err != nil {
			c.logger.Warn("dropping malformed server line", zap.String("line", line), zap.Error(err))
			continue
		}
		select {
		case c.lines <- sl:
		case <-c.closing:
			return
		}
		if sl.Kind == protocol.KindBye {
			return
		}
	}
}
