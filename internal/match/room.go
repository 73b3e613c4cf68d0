package match

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/cory-johannsen/matchrelay/internal/protocol"
	"github.com/cory-johannsen/matchrelay/internal/scene"
)

// RoomState is the lifecycle state of a Room.
type RoomState int

const (
	RoomOpen RoomState = iota
	RoomClosing
	RoomClosed
)

// String returns the state name used in logs.
func (s RoomState) String() string {
	switch s {
	case RoomOpen:
		return "open"
	case RoomClosing:
		return "closing"
	case RoomClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FailureFunc is called, from its own goroutine, when delivering to a member fails.
type FailureFunc func(s *Session, err error)

// Room is a group of sessions bound to one scene with its own broadcast relay.
// The room references its members' sessions but never closes their connections.
type Room struct {
	id        string
	scene     *scene.Scene
	capacity  int
	openedAt  time.Time
	onFailure FailureFunc
	logger    *zap.Logger

	outbox chan protocol.Envelope

	mu      sync.Mutex
	members []*Session
	state   RoomState
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRoom creates an open room with members in order. It does not set the
// members' room pointers.
//
// Precondition: len(members) <= capacity; bufferSize >= 1.
func NewRoom(sc *scene.Scene, capacity int, members []*Session, onFailure FailureFunc, bufferSize int, logger *zap.Logger) *Room {
	id := uuid.New().String()
	return &Room{
		id:        id,
		scene:     sc,
		capacity:  capacity,
		openedAt:  time.Now(),
		onFailure: onFailure,
		logger:    logger.With(zap.String("room", id)),
		outbox:    make(chan protocol.Envelope, bufferSize),
		members:   append([]*Session(nil), members...),
	}
}

func (r *Room) ID() string { return r.id }

func (r *Room) Scene() *scene.Scene { return r.scene }

func (r *Room) Capacity() int { return r.capacity }

func (r *Room) OpenedAt() time.Time { return r.openedAt }

// State returns the room's lifecycle state.
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Members returns a snapshot of the member list in join order.
func (r *Room) Members() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Session(nil), r.members...)
}

// MemberIDs returns the members' session ids in join order.
func (r *Room) MemberIDs() []string {
	return lo.Map(r.Members(), func(s *Session, _ int) string { return s.ID() })
}

// Len returns the current member count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Has reports whether the session with id is a member.
func (r *Room) Has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.ContainsBy(r.members, func(s *Session) bool { return s.ID() == sessionID })
}

// Remove finds and removes s in one step and clears its room pointer.
//
// Postcondition: removed is false if s was not a member. remaining is the
// member count after the call.
func (r *Room) Remove(s *Session) (removed bool, remaining int) {
	r.mu.Lock()
	_, i, found := lo.FindIndexOf(r.members, func(m *Session) bool { return m == s })
	if found {
		r.members = append(r.members[:i], r.members[i+1:]...)
	}
	remaining = len(r.members)
	r.mu.Unlock()

	if found {
		s.leaveRoom(r)
	}
	return found, remaining
}

// Publish queues env for the relay without blocking.
//
// Postcondition: Returns ErrRoomClosed once Close has begun, ErrRoomBusy when
// the broadcast buffer is full, nil otherwise.
func (r *Room) Publish(env protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RoomOpen {
		return ErrRoomClosed
	}
	select {
	case r.outbox <- env:
		return nil
	default:
		return ErrRoomBusy
	}
}

// StartBroadcast launches the relay goroutine. It first delivers the scene's
// broadcasts, then published envelopes, until ctx is cancelled or Close is called.
// Calling it more than once, or after Close, has no effect.
func (r *Room) StartBroadcast(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RoomOpen || r.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.relay(ctx, r.done)
}

func (r *Room) relay(ctx context.Context, done chan struct{}) {
	defer close(done)

	for _, b := range r.scene.Broadcasts {
		if ctx.Err() != nil {
			return
		}
		r.deliver(protocol.Envelope{Name: b.Name, Code: b.Code, Payload: b.Payload, Receiver: protocol.ToAll()})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.outbox:
			r.deliver(env)
		}
	}
}

// deliver pushes env to every matching member. A failing member does not
// stop delivery to the rest.
func (r *Room) deliver(env protocol.Envelope) {
	line := env.Line()
	for _, m := range r.Members() {
		if !env.Receiver.Matches(m.ID()) {
			continue
		}
		if err := m.Push(line); err != nil {
			r.logger.Debug("delivery failed", zap.String("session", m.ID()), zap.Error(err))
			if r.onFailure != nil {
				go r.onFailure(m, err)
			}
		}
	}
}

// Close stops the relay, waits for it to exit and releases every member.
// Released members still in the room are sent LEFT. Idempotent.
//
// Postcondition: Returns the members released by this call.
func (r *Room) Close() []*Session {
	r.mu.Lock()
	if r.state != RoomOpen {
		r.mu.Unlock()
		return nil
	}
	r.state = RoomClosing
	members := r.members
	r.members = nil
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	for _, m := range members {
		if m.leaveRoom(r) {
			_ = m.Push(protocol.Left(r.id))
		}
	}

	r.mu.Lock()
	r.state = RoomClosed
	r.mu.Unlock()
	return members
}

// release detaches members from a room that never started. No lines are sent.
func (r *Room) release() {
	r.mu.Lock()
	members := r.members
	r.members = nil
	r.state = RoomClosed
	r.mu.Unlock()

	for _, m := range members {
		m.leaveRoom(r)
	}
}

func (r *Room) report() RoomReport {
	return RoomReport{
		RoomID:     r.id,
		SceneIndex: r.scene.Index,
		SceneName:  r.scene.Name,
		Capacity:   r.capacity,
		Members:    r.MemberIDs(),
		OpenedAt:   r.openedAt,
	}
}
