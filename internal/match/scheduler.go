package match

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/matchrelay/internal/scene"
)

// FormFunc opens a room on sc for the claimed sessions. It runs under the
// queue lock and reports whether a room was formed.
type FormFunc func(ctx context.Context, sc *scene.Scene, sessions []*Session) bool

// Scheduler turns queued demand into rooms. It wakes when a session is
// queued, and otherwise at least once per interval.
type Scheduler struct {
	queue    *Queue
	catalog  *scene.Catalog
	interval time.Duration
	form     FormFunc
	logger   *zap.Logger
}

// NewScheduler creates a Scheduler.
//
// Precondition: interval must be > 0; form must not be nil.
func NewScheduler(queue *Queue, catalog *scene.Catalog, interval time.Duration, form FormFunc, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		queue:    queue,
		catalog:  catalog,
		interval: interval,
		form:     form,
		logger:   logger,
	}
}

// Pass scans every matchable scene once, forming at most one room per scene
// from the oldest entries for that scene.
//
// Postcondition: Returns the number of rooms formed.
func (s *Scheduler) Pass(ctx context.Context) int {
	formed := 0
	for _, sc := range s.catalog.Matchable() {
		ok := s.queue.claim(sc.Index, *sc.Room, func(sessions []*Session) bool {
			return s.form(ctx, sc, sessions)
		})
		if ok {
			formed++
		}
	}
	return formed
}

// Run executes passes until ctx is cancelled. A pass that formed a room is
// followed immediately by another.
//
// Postcondition: Returns nil once ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("scheduler started", zap.Duration("interval", s.interval))
	for {
		if ctx.Err() != nil {
			s.logger.Debug("scheduler stopped")
			return nil
		}
		if s.Pass(ctx) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-s.queue.Wake():
		case <-ticker.C:
		}
	}
}
