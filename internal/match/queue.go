package match

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/cory-johannsen/matchrelay/internal/scene"
)

// QueueEntry is one session waiting for a room on one scene.
type QueueEntry struct {
	Session  *Session
	Scene    int
	QueuedAt time.Time
}

// Queue is the ordered matchmaking queue. A session holds at most one entry,
// and never while it is in a room. Every transition between queued and
// roomed runs under the queue lock.
type Queue struct {
	mu      sync.Mutex
	entries []QueueEntry
	wake    chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Wake returns the channel signalled after every successful Start.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start appends an entry for s on scene.
//
// Postcondition: Returns false, leaving the queue unchanged, if s already has
// an entry, is in a room, or is closed.
func (q *Queue) Start(s *Session, sceneIndex int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexOf(s) >= 0 || s.Room() != nil || s.Closed() {
		return false
	}
	q.entries = append(q.entries, QueueEntry{Session: s, Scene: sceneIndex, QueuedAt: time.Now()})
	s.lookingForGame.Store(true)
	q.signal()
	return true
}

// End removes the entry matching (s, scene).
//
// Postcondition: Returns true iff an entry was removed.
func (q *Queue) End(s *Session, sceneIndex int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, i, ok := lo.FindIndexOf(q.entries, func(e QueueEntry) bool {
		return e.Session == s && e.Scene == sceneIndex
	})
	if !ok {
		return false
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	s.lookingForGame.Store(false)
	return true
}

// Remove drops any entry held by s regardless of scene.
func (q *Queue) Remove(s *Session) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(s)
	if i < 0 {
		return false
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	s.lookingForGame.Store(false)
	return true
}

// SceneOf returns the scene s is queued for.
func (q *Queue) SceneOf(s *Session) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(s)
	if i < 0 {
		return 0, false
	}
	return q.entries[i].Scene, true
}

// Len returns the total number of entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Count returns the number of entries for scene.
func (q *Queue) Count(sceneIndex int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.CountBy(q.entries, func(e QueueEntry) bool { return e.Scene == sceneIndex })
}

// Entries returns a copy of the queue in order.
func (q *Queue) Entries() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]QueueEntry(nil), q.entries...)
}

// Clear drops every entry and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	for _, e := range q.entries {
		e.Session.lookingForGame.Store(false)
	}
	q.entries = nil
	return n
}

// claim selects the oldest entries for scene, as many as policy allows, and
// hands their sessions to bind while the lock is held. When bind returns true
// the selected entries are removed. When it returns false only entries of
// closed sessions are removed; the rest keep their positions.
//
// Postcondition: Returns false without calling bind when fewer than
// policy.MinimumPlayers entries are queued for scene.
func (q *Queue) claim(sceneIndex int, policy scene.RoomPolicy, bind func([]*Session) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	queued := lo.Filter(q.entries, func(e QueueEntry, _ int) bool { return e.Scene == sceneIndex })
	size, ok := policy.RoomSize(len(queued))
	if !ok {
		return false
	}
	sessions := lo.Map(queued[:size], func(e QueueEntry, _ int) *Session { return e.Session })
	return q.settle(sessions, bind(sessions))
}

// withdraw hands sessions to bind under the lock and, on success, removes any
// entries they hold.
func (q *Queue) withdraw(sessions []*Session, bind func([]*Session) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settle(sessions, bind(sessions))
}

// settle applies the outcome of a bind. Callers hold q.mu.
func (q *Queue) settle(sessions []*Session, bound bool) bool {
	q.entries = lo.Reject(q.entries, func(e QueueEntry, _ int) bool {
		if !lo.Contains(sessions, e.Session) {
			return false
		}
		return bound || e.Session.Closed()
	})
	if bound {
		for _, s := range sessions {
			s.lookingForGame.Store(false)
		}
	}
	return bound
}

func (q *Queue) indexOf(s *Session) int {
	_, i, ok := lo.FindIndexOf(q.entries, func(e QueueEntry) bool { return e.Session == s })
	if !ok {
		return -1
	}
	return i
}
