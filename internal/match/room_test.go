package match

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/matchrelay/internal/protocol"
	"github.com/cory-johannsen/matchrelay/internal/scene"
)

func greetingScene() *scene.Scene {
	return &scene.Scene{
		Index: 3,
		Name:  "greeting",
		Room:  &scene.RoomPolicy{MinimumPlayers: 1, MaximumPlayers: 3},
		Broadcasts: []scene.Broadcast{
			{Name: "Hello", Code: 1, Payload: "first", Receiver: scene.ReceiverAll},
			{Name: "Hello", Code: 2, Payload: "second", Receiver: scene.ReceiverAll},
		},
	}
}

func joinedRoom(t *testing.T, members []*Session, onFailure FailureFunc) *Room {
	t.Helper()
	r := NewRoom(greetingScene(), 3, members, onFailure, 8, zaptest.NewLogger(t))
	for _, m := range members {
		require.True(t, m.JoinRoom(r))
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRoom_SceneBroadcastsThenPublished(t *testing.T) {
	a, b := pipeSession(t, 8), pipeSession(t, 8)
	r := joinedRoom(t, []*Session{a, b}, nil)

	require.NoError(t, r.Publish(protocol.Envelope{Name: "Chat", Code: 9, Payload: "hi all"}))
	r.StartBroadcast(testContext(t))

	want := []string{"MSG Hello 1 first", "MSG Hello 2 second", "MSG Chat 9 hi all"}
	assert.Equal(t, want, awaitLines(t, a, 3))
	assert.Equal(t, want, awaitLines(t, b, 3))
}

func TestRoom_DirectedEnvelope(t *testing.T) {
	sc := &scene.Scene{Name: "quiet", Room: &scene.RoomPolicy{MinimumPlayers: 1, MaximumPlayers: 2}}
	a, b := pipeSession(t, 8), pipeSession(t, 8)
	r := NewRoom(sc, 2, []*Session{a, b}, nil, 8, zaptest.NewLogger(t))
	t.Cleanup(func() { r.Close() })
	r.StartBroadcast(testContext(t))

	require.NoError(t, r.Publish(protocol.Envelope{Name: "Whisper", Code: 4, Payload: "psst", Receiver: protocol.ToSession(b.ID())}))
	require.NoError(t, r.Publish(protocol.Envelope{Name: "Shout", Code: 5, Receiver: protocol.ToAll()}))

	assert.Equal(t, []string{"MSG Whisper 4 psst", "MSG Shout 5"}, awaitLines(t, b, 2))
	assert.Equal(t, []string{"MSG Shout 5"}, awaitLines(t, a, 1))
}

func TestRoom_FailingMemberDoesNotStopDelivery(t *testing.T) {
	slow, fast := pipeSession(t, 1), pipeSession(t, 8)
	require.NoError(t, slow.Push("occupied"))

	var mu sync.Mutex
	var failed []*Session
	done := make(chan struct{}, 2)
	r := joinedRoom(t, []*Session{slow, fast}, func(s *Session, err error) {
		assert.ErrorIs(t, err, ErrOutboxFull)
		mu.Lock()
		failed = append(failed, s)
		mu.Unlock()
		done <- struct{}{}
	})
	r.StartBroadcast(testContext(t))

	assert.Equal(t, []string{"MSG Hello 1 first", "MSG Hello 2 second"}, awaitLines(t, fast, 2))
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("failure callback not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Same(t, slow, failed[0])
}

func TestRoom_RemoveIsSingleStep(t *testing.T) {
	a, b := pipeSession(t, 4), pipeSession(t, 4)
	r := joinedRoom(t, []*Session{a, b}, nil)

	removed, remaining := r.Remove(a)
	assert.True(t, removed)
	assert.Equal(t, 1, remaining)
	assert.Nil(t, a.Room())
	assert.Same(t, r, b.Room())

	removed, remaining = r.Remove(a)
	assert.False(t, removed)
	assert.Equal(t, 1, remaining)
	assert.False(t, r.Has(a.ID()))
	assert.True(t, r.Has(b.ID()))
}

func TestRoom_CloseReleasesMembersOnce(t *testing.T) {
	a, b := pipeSession(t, 8), pipeSession(t, 8)
	r := joinedRoom(t, []*Session{a, b}, nil)
	r.StartBroadcast(testContext(t))
	awaitLines(t, a, 2)
	awaitLines(t, b, 2)

	released := r.Close()
	assert.ElementsMatch(t, []*Session{a, b}, released)
	assert.Equal(t, RoomClosed, r.State())
	assert.Nil(t, a.Room())
	assert.Nil(t, b.Room())
	assert.Equal(t, []string{"LEFT " + r.ID()}, outboxLines(a))
	assert.Zero(t, r.Len())

	assert.Nil(t, r.Close())
	assert.ErrorIs(t, r.Publish(protocol.Envelope{Name: "Late", Code: 1}), ErrRoomClosed)
	assert.Equal(t, []string{"LEFT " + r.ID()}, outboxLines(b))
}

func TestRoom_PublishBusy(t *testing.T) {
	a := pipeSession(t, 4)
	r := NewRoom(greetingScene(), 3, []*Session{a}, nil, 1, zaptest.NewLogger(t))
	t.Cleanup(func() { r.Close() })

	require.NoError(t, r.Publish(protocol.Envelope{Name: "One", Code: 1}))
	assert.ErrorIs(t, r.Publish(protocol.Envelope{Name: "Two", Code: 2}), ErrRoomBusy)
}

func TestRoom_ReleaseSendsNothing(t *testing.T) {
	a := pipeSession(t, 4)
	r := NewRoom(greetingScene(), 3, []*Session{a}, nil, 1, zaptest.NewLogger(t))
	require.True(t, a.JoinRoom(r))

	r.release()
	assert.Nil(t, a.Room())
	assert.Empty(t, outboxLines(a))
	assert.Equal(t, RoomClosed, r.State())
}
