package match

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning is returned by Stop on a stopped server.
	ErrNotRunning = errors.New("server not running")
	// ErrRoomClosed is returned when publishing to a closed room.
	ErrRoomClosed = errors.New("room closed")
	// ErrRoomBusy is returned when a room's broadcast buffer is full.
	ErrRoomBusy = errors.New("room broadcast buffer full")
	// ErrOutboxFull is returned when a session cannot keep up with its outbound lines.
	ErrOutboxFull = errors.New("session outbox full")
	// ErrSessionClosed is returned when pushing to a session that has failed or left.
	ErrSessionClosed = errors.New("session closed")
)

// BindError reports that the listening socket could not be acquired.
// Start may be retried.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ConnectionError reports an I/O failure isolated to one session.
type ConnectionError struct {
	SessionID string
	// Op is "read" or "write".
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session %s %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ShutdownError reports that the listening socket failed to close. The rest
// of shutdown has still been carried out.
type ShutdownError struct {
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("closing listener: %v", e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }
