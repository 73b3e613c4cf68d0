package match

import (
	"context"
	"time"
)

// SessionReport describes a session that has left the server.
type SessionReport struct {
	SessionID   string
	RemoteAddr  string
	ConnectedAt time.Time
	ClosedAt    time.Time
	Received    int64
	Sent        int64
	// Reason is "failed" for I/O errors, "quit" for QUIT, "shutdown" for server stop.
	Reason string
}

// RoomReport describes a room that has opened or closed.
type RoomReport struct {
	RoomID     string
	SceneIndex int
	SceneName  string
	Capacity   int
	Members    []string
	OpenedAt   time.Time
	// ClosedAt is zero for rooms that have just opened.
	ClosedAt time.Time
}

// RunReport describes one start/stop cycle of the server.
type RunReport struct {
	StartedAt time.Time
	StoppedAt time.Time
	Totals    Totals
}

// Recorder receives aggregate reports. Implementations must be safe for
// concurrent use; errors are logged and never affect matchmaking.
type Recorder interface {
	SessionClosed(ctx context.Context, r SessionReport) error
	RoomOpened(ctx context.Context, r RoomReport) error
	RoomClosed(ctx context.Context, r RoomReport) error
	RunStopped(ctx context.Context, r RunReport) error
}

// NopRecorder discards every report.
type NopRecorder struct{}

func (NopRecorder) SessionClosed(context.Context, SessionReport) error { return nil }
func (NopRecorder) RoomOpened(context.Context, RoomReport) error       { return nil }
func (NopRecorder) RoomClosed(context.Context, RoomReport) error       { return nil }
func (NopRecorder) RunStopped(context.Context, RunReport) error        { return nil }
