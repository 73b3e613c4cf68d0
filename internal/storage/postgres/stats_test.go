package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/matchrelay/internal/match"
	pgstore "github.com/cory-johannsen/matchrelay/internal/storage/postgres"
	"github.com/cory-johannsen/matchrelay/internal/testutil"
)

func statsRepo(t *testing.T) *pgstore.StatsRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return pgstore.NewStatsRepository(pc.RawPool)
}

func TestStatsRepository(t *testing.T) {
	repo := statsRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("room lifecycle", func(t *testing.T) {
		room := match.RoomReport{
			RoomID:     uuid.NewString(),
			SceneIndex: -1,
			SceneName:  "legacy",
			Capacity:   2,
			Members:    []string{"a", "b"},
			OpenedAt:   now,
		}
		require.NoError(t, repo.RoomOpened(ctx, room))
		require.NoError(t, repo.RoomOpened(ctx, room))

		got, err := repo.Room(ctx, room.RoomID)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got.Members)
		assert.Nil(t, got.ClosedAt)

		room.ClosedAt = now.Add(time.Minute)
		require.NoError(t, repo.RoomClosed(ctx, room))
		got, err = repo.Room(ctx, room.RoomID)
		require.NoError(t, err)
		require.NotNil(t, got.ClosedAt)
		assert.True(t, room.ClosedAt.Equal(*got.ClosedAt))
	})

	t.Run("close without open inserts", func(t *testing.T) {
		room := match.RoomReport{
			RoomID:    uuid.NewString(),
			SceneName: "duel",
			Capacity:  4,
			OpenedAt:  now,
			ClosedAt:  now.Add(time.Second),
		}
		require.NoError(t, repo.RoomClosed(ctx, room))
		got, err := repo.Room(ctx, room.RoomID)
		require.NoError(t, err)
		assert.Equal(t, "duel", got.SceneName)
		assert.Empty(t, got.Members)
	})

	t.Run("unknown room", func(t *testing.T) {
		_, err := repo.Room(ctx, uuid.NewString())
		assert.ErrorIs(t, err, pgstore.ErrRoomNotFound)
	})

	t.Run("sessions and runs", func(t *testing.T) {
		for i, reason := range []string{match.ReasonQuit, match.ReasonShutdown} {
			require.NoError(t, repo.SessionClosed(ctx, match.SessionReport{
				SessionID:   uuid.NewString(),
				RemoteAddr:  "127.0.0.1:5000",
				ConnectedAt: now,
				ClosedAt:    now.Add(time.Duration(i+1) * time.Second),
				Received:    3,
				Sent:        5,
				Reason:      reason,
			}))
		}
		sessions, received, sent, err := repo.SessionTotals(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), sessions)
		assert.Equal(t, int64(6), received)
		assert.Equal(t, int64(10), sent)

		require.NoError(t, repo.RunStopped(ctx, match.RunReport{
			StartedAt: now,
			StoppedAt: now.Add(time.Hour),
			Totals:    match.Totals{Received: 6, Sent: 10, SessionsAccepted: 2, RoomsFormed: 1},
		}))
		runs, err := repo.RecentRuns(ctx, 5)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, int64(2), runs[0].SessionsAccepted)
		assert.Equal(t, int64(1), runs[0].RoomsFormed)
	})
}

func TestStatsRepository_RecordsServerRun(t *testing.T) {
	repo := statsRepo(t)
	ctx := context.Background()

	rec := match.Recorder(repo)
	require.NoError(t, rec.RunStopped(ctx, match.RunReport{StartedAt: time.Now(), StoppedAt: time.Now()}))
	runs, err := repo.RecentRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
