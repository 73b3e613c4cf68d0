package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/matchrelay/internal/scene"
)

func TestQueueStart_OneEntryPerSession(t *testing.T) {
	q := NewQueue()
	s := pipeSession(t, 4)

	assert.True(t, q.Start(s, 0))
	assert.True(t, s.LookingForGame())
	assert.False(t, q.Start(s, 0))
	assert.False(t, q.Start(s, 2))
	assert.Equal(t, 1, q.Len())

	sc, ok := q.SceneOf(s)
	require.True(t, ok)
	assert.Equal(t, 0, sc)
}

func TestQueueStart_SignalsWake(t *testing.T) {
	q := NewQueue()
	require.True(t, q.Start(pipeSession(t, 4), 0))
	require.True(t, q.Start(pipeSession(t, 4), 0))

	select {
	case <-q.Wake():
	default:
		t.Fatal("expected a wake signal")
	}
	select {
	case <-q.Wake():
		t.Fatal("wake signals must coalesce")
	default:
	}
}

func TestQueueStart_RejectsRoomedAndClosed(t *testing.T) {
	q := NewQueue()
	roomed := pipeSession(t, 4)
	require.True(t, roomed.JoinRoom(&Room{}))
	assert.False(t, q.Start(roomed, 0))

	closed := pipeSession(t, 4)
	closed.close()
	assert.False(t, q.Start(closed, 0))
	assert.Zero(t, q.Len())
}

func TestQueueEnd(t *testing.T) {
	q := NewQueue()
	s := pipeSession(t, 4)
	require.True(t, q.Start(s, 1))

	assert.False(t, q.End(s, 0))
	assert.True(t, q.End(s, 1))
	assert.False(t, s.LookingForGame())
	assert.False(t, q.End(s, 1))
	assert.Zero(t, q.Len())
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	a, b := pipeSession(t, 4), pipeSession(t, 4)
	require.True(t, q.Start(a, 0))
	require.True(t, q.Start(b, 1))

	assert.True(t, q.Remove(a))
	assert.False(t, a.LookingForGame())
	assert.True(t, b.LookingForGame())
	assert.False(t, q.Remove(a))
	entries := q.Entries()
	require.Len(t, entries, 1)
	assert.Same(t, b, entries[0].Session)
}

func TestQueueClaim_BelowMinimumDoesNotBind(t *testing.T) {
	q := NewQueue()
	require.True(t, q.Start(pipeSession(t, 4), 0))

	called := false
	ok := q.claim(0, scene.RoomPolicy{MinimumPlayers: 2, MaximumPlayers: 2}, func([]*Session) bool {
		called = true
		return true
	})
	assert.False(t, ok)
	assert.False(t, called)
	assert.Equal(t, 1, q.Len())
}

func TestQueueClaim_FailedBindKeepsOpenEntriesInPlace(t *testing.T) {
	q := NewQueue()
	a, other, b, c := pipeSession(t, 4), pipeSession(t, 4), pipeSession(t, 4), pipeSession(t, 4)
	require.True(t, q.Start(a, 0))
	require.True(t, q.Start(other, 1))
	require.True(t, q.Start(b, 0))
	require.True(t, q.Start(c, 0))
	b.close()

	ok := q.claim(0, scene.RoomPolicy{MinimumPlayers: 3, MaximumPlayers: 3}, func(sessions []*Session) bool {
		assert.Equal(t, []*Session{a, b, c}, sessions)
		return false
	})
	require.False(t, ok)

	var order []*Session
	for _, e := range q.Entries() {
		order = append(order, e.Session)
	}
	assert.Equal(t, []*Session{a, other, c}, order)
	assert.True(t, a.LookingForGame())
}

func TestQueueClear(t *testing.T) {
	q := NewQueue()
	s := pipeSession(t, 4)
	require.True(t, q.Start(s, 0))
	require.True(t, q.Start(pipeSession(t, 4), 0))

	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.Len())
	assert.False(t, s.LookingForGame())
}

// Property: the queue holds at most one entry per session, and Count agrees
// with a model of the operations applied.
func TestPropertyQueueOneEntryPerSession(t *testing.T) {
	sessions := make([]*Session, 4)
	for i := range sessions {
		sessions[i] = pipeSession(t, 1)
	}

	rapid.Check(t, func(rt *rapid.T) {
		q := NewQueue()
		model := map[*Session]int{}

		ops := rapid.IntRange(1, 60).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			s := sessions[rapid.IntRange(0, len(sessions)-1).Draw(rt, "session")]
			sc := rapid.IntRange(0, 2).Draw(rt, "scene")
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				_, queued := model[s]
				if got := q.Start(s, sc); got == queued {
					rt.Fatalf("Start returned %v with queued=%v", got, queued)
				}
				if !queued {
					model[s] = sc
				}
			case 1:
				cur, queued := model[s]
				want := queued && cur == sc
				if got := q.End(s, sc); got != want {
					rt.Fatalf("End returned %v, want %v", got, want)
				}
				if want {
					delete(model, s)
				}
			case 2:
				_, queued := model[s]
				if got := q.Remove(s); got != queued {
					rt.Fatalf("Remove returned %v, want %v", got, queued)
				}
				delete(model, s)
			}
		}

		if q.Len() != len(model) {
			rt.Fatalf("Len = %d, model has %d", q.Len(), len(model))
		}
		for sc := 0; sc <= 2; sc++ {
			want := 0
			for _, v := range model {
				if v == sc {
					want++
				}
			}
			if got := q.Count(sc); got != want {
				rt.Fatalf("Count(%d) = %d, want %d", sc, got, want)
			}
		}
	})
}
