package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/matchrelay/internal/match"
)

// ErrRoomNotFound is returned when a room lookup yields no results.
var ErrRoomNotFound = errors.New("room not found")

// RunRecord is one persisted server run.
type RunRecord struct {
	ID               int64
	StartedAt        time.Time
	StoppedAt        time.Time
	Received         int64
	Sent             int64
	SessionsAccepted int64
	RoomsFormed      int64
}

// RoomRecord is one persisted room.
type RoomRecord struct {
	RoomID     string
	SceneIndex int
	SceneName  string
	Capacity   int
	Members    []string
	OpenedAt   time.Time
	// ClosedAt is nil while the room is open.
	ClosedAt *time.Time
}

// StatsRepository persists matchmaking reports. It implements match.Recorder.
type StatsRepository struct {
	db *pgxpool.Pool
}

var _ match.Recorder = (*StatsRepository)(nil)

// NewStatsRepository creates a StatsRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewStatsRepository(db *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{db: db}
}

// SessionClosed records a departed session.
func (r *StatsRepository) SessionClosed(ctx context.Context, rep match.SessionReport) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO match_sessions (session_id, remote_addr, connected_at, closed_at, received, sent, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id) DO NOTHING`,
		rep.SessionID, rep.RemoteAddr, rep.ConnectedAt, rep.ClosedAt, rep.Received, rep.Sent, rep.Reason,
	)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", rep.SessionID, err)
	}
	return nil
}

// RoomOpened records a newly formed room.
func (r *StatsRepository) RoomOpened(ctx context.Context, rep match.RoomReport) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO match_rooms (room_id, scene_index, scene_name, capacity, members, opened_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (room_id) DO NOTHING`,
		rep.RoomID, rep.SceneIndex, rep.SceneName, rep.Capacity, rep.Members, rep.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting room %s: %w", rep.RoomID, err)
	}
	return nil
}

// RoomClosed stamps a room's close time, inserting the room if its open
// report never arrived.
func (r *StatsRepository) RoomClosed(ctx context.Context, rep match.RoomReport) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO match_rooms (room_id, scene_index, scene_name, capacity, members, opened_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (room_id) DO UPDATE SET closed_at = EXCLUDED.closed_at`,
		rep.RoomID, rep.SceneIndex, rep.SceneName, rep.Capacity, rep.Members, rep.OpenedAt, rep.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("closing room %s: %w", rep.RoomID, err)
	}
	return nil
}

// RunStopped records the totals of a finished run.
func (r *StatsRepository) RunStopped(ctx context.Context, rep match.RunReport) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO match_runs (started_at, stopped_at, received, sent, sessions_accepted, rooms_formed)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rep.StartedAt, rep.StoppedAt,
		rep.Totals.Received, rep.Totals.Sent, rep.Totals.SessionsAccepted, rep.Totals.RoomsFormed,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
//
// Precondition: limit must be > 0.
func (r *StatsRepository) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, started_at, stopped_at, received, sent, sessions_accepted, rooms_formed
		 FROM match_runs ORDER BY stopped_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RunRecord, error) {
		var rr RunRecord
		err := row.Scan(&rr.ID, &rr.StartedAt, &rr.StoppedAt, &rr.Received, &rr.Sent, &rr.SessionsAccepted, &rr.RoomsFormed)
		return rr, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning runs: %w", err)
	}
	return runs, nil
}

// Room returns the persisted room with id.
//
// Postcondition: Returns ErrRoomNotFound if no such room was recorded.
func (r *StatsRepository) Room(ctx context.Context, id string) (RoomRecord, error) {
	var rec RoomRecord
	err := r.db.QueryRow(ctx,
		`SELECT room_id, scene_index, scene_name, capacity, members, opened_at, closed_at
		 FROM match_rooms WHERE room_id = $1`,
		id,
	).Scan(&rec.RoomID, &rec.SceneIndex, &rec.SceneName, &rec.Capacity, &rec.Members, &rec.OpenedAt, &rec.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoomRecord{}, ErrRoomNotFound
		}
		return RoomRecord{}, fmt.Errorf("querying room %s: %w", id, err)
	}
	return rec, nil
}

// SessionTotals sums the message counters of every recorded session.
func (r *StatsRepository) SessionTotals(ctx context.Context) (sessions, received, sent int64, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(received), 0), COALESCE(SUM(sent), 0) FROM match_sessions`,
	).Scan(&sessions, &received, &sent)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summing sessions: %w", err)
	}
	return sessions, received, sent, nil
}
