package match

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/matchrelay/internal/config"
	"github.com/cory-johannsen/matchrelay/internal/protocol"
	"github.com/cory-johannsen/matchrelay/internal/scene"
	"github.com/cory-johannsen/matchrelay/internal/transport"
)

// Close reasons carried by SessionReport.Reason.
const (
	ReasonFailed   = "failed"
	ReasonQuit     = "quit"
	ReasonShutdown = "shutdown"
)

// recordTimeout bounds a single recorder call when the database section does
// not set one.
const recordTimeout = 2 * time.Second

// Totals are aggregate counters. Message counts cover sessions that have
// left the server; live sessions are counted when they leave.
type Totals struct {
	Received         int64
	Sent             int64
	SessionsAccepted int64
	RoomsFormed      int64
}

type totals struct {
	received atomic.Int64
	sent     atomic.Int64
	accepted atomic.Int64
	rooms    atomic.Int64
}

func (t *totals) load() Totals {
	return Totals{
		Received:         t.received.Load(),
		Sent:             t.sent.Load(),
		SessionsAccepted: t.accepted.Load(),
		RoomsFormed:      t.rooms.Load(),
	}
}

// Snapshot is a point-in-time view of the server.
type Snapshot struct {
	Running   bool
	Addr      string
	StartedAt time.Time
	Uptime    time.Duration
	Sessions  int
	Rooms     int
	Queued    int
	Totals    Totals
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder sets the stats sink. The default discards reports.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithStatusListener registers fn to be called with true after Start and
// false at the beginning of Stop. fn runs with the lifecycle lock held and
// must not call back into the Server.
func WithStatusListener(fn func(running bool)) Option {
	return func(s *Server) { s.listeners = append(s.listeners, fn) }
}

// Server accepts client connections, runs matchmaking and owns every session
// and room. It can be started and stopped repeatedly.
type Server struct {
	cfg       config.Config
	catalog   *scene.Catalog
	logger    *zap.Logger
	recorder  Recorder
	listeners []func(bool)

	sessions  *registry[*Session]
	rooms     *registry[*Room]
	queue     *Queue
	scheduler *Scheduler
	totals    totals

	// lifecycle state, guarded by mu
	mu        sync.Mutex
	running   bool
	listener  net.Listener
	startedAt time.Time
	cancel    context.CancelFunc
	group     *errgroup.Group

	// per-run state
	accepted    atomic.Int64
	legacyFirst atomic.Pointer[Session]

	conns   sync.WaitGroup
	reports sync.WaitGroup
}

// NewServer creates a stopped Server.
//
// Precondition: cfg must be valid; catalog and logger must not be nil.
func NewServer(cfg config.Config, catalog *scene.Catalog, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		catalog:  catalog,
		logger:   logger,
		recorder: NopRecorder{},
		sessions: newRegistry[*Session](),
		rooms:    newRegistry[*Room](),
		queue:    NewQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scheduler = NewScheduler(s.queue, catalog, cfg.Matchmaking.ScanInterval, s.formRoom, logger.Named("scheduler"))
	return s
}

// Start binds host:port and begins accepting clients and matching queued
// sessions. Port 0 picks an ephemeral port; see Addr.
//
// Postcondition: Returns ErrAlreadyRunning if running, or a *BindError if the
// port cannot be bound, leaving the server stopped.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	addr := s.cfg.Listener.Addr(port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	s.accepted.Store(0)
	s.legacyFirst.Store(nil)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx, ln) })
	g.Go(func() error { return s.scheduler.Run(gctx) })

	s.listener = ln
	s.cancel = cancel
	s.group = g
	s.startedAt = time.Now()
	s.running = true

	s.logger.Info("matchmaking server listening", zap.String("addr", ln.Addr().String()))
	s.notifyStatus(true)
	return nil
}

// Wait blocks until the accept loop and scheduler of the current run exit.
//
// Postcondition: Returns ErrNotRunning if the server is stopped.
func (s *Server) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return ErrNotRunning
	}
	return g.Wait()
}

// Stop closes every session and room, clears the queue and closes the
// listener. The server may be started again afterwards.
//
// Postcondition: Returns ErrNotRunning if stopped, or a *ShutdownError if the
// listener failed to close; every other shutdown step has run either way.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}
	s.running = false
	s.notifyStatus(false)
	s.logger.Info("stopping matchmaking server")

	s.cancel()
	var closeErr error
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		closeErr = err
	}
	if err := s.group.Wait(); err != nil {
		s.logger.Error("server task failed", zap.Error(err))
	}

	var closed []*Session
	for _, sess := range s.sessions.Drain() {
		if _, ok := sess.close(); ok {
			closed = append(closed, sess)
		}
	}
	for _, room := range s.rooms.Drain() {
		report := room.report()
		room.Close()
		s.recordRoomClosed(report)
	}
	s.queue.Clear()

	s.conns.Wait()
	for _, sess := range closed {
		s.retire(sess, ReasonShutdown)
	}
	s.reports.Wait()

	run := RunReport{StartedAt: s.startedAt, StoppedAt: time.Now(), Totals: s.totals.load()}
	ctx, cancel := context.WithTimeout(context.Background(), s.recordTimeout())
	if err := s.recorder.RunStopped(ctx, run); err != nil {
		s.logger.Warn("recording run", zap.Error(err))
	}
	cancel()

	s.listener = nil
	s.cancel = nil
	s.group = nil

	s.logger.Info("matchmaking server stopped",
		zap.Int64("received", run.Totals.Received),
		zap.Int64("sent", run.Totals.Sent),
		zap.Duration("uptime", run.StoppedAt.Sub(run.StartedAt)),
	)
	if closeErr != nil {
		return &ShutdownError{Err: closeErr}
	}
	return nil
}

// Running reports whether the server is started.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound listen address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Totals returns the aggregate counters.
func (s *Server) Totals() Totals {
	return s.totals.load()
}

// Snapshot returns live counts, uptime and totals.
func (s *Server) Snapshot() Snapshot {
	s.mu.Lock()
	running, startedAt := s.running, s.startedAt
	addr := ""
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	s.mu.Unlock()

	snap := Snapshot{
		Running:   running,
		Addr:      addr,
		StartedAt: startedAt,
		Sessions:  s.sessions.Len(),
		Rooms:     s.rooms.Len(),
		Queued:    s.queue.Len(),
		Totals:    s.totals.load(),
	}
	if running {
		snap.Uptime = time.Since(startedAt)
	}
	return snap
}

// Session returns the registered session with id.
func (s *Server) Session(id string) (*Session, bool) {
	return s.sessions.Get(id)
}

// Rooms returns the registered rooms in formation order.
func (s *Server) Rooms() []*Room {
	return s.rooms.All()
}

// Queue returns the matchmaking queue.
func (s *Server) Queue() *Queue {
	return s.queue
}

// QueueStart queues sess for sceneIndex.
//
// Postcondition: Returns false if the scene is unknown, or sess already has
// an entry or is in a room.
func (s *Server) QueueStart(sess *Session, sceneIndex int) bool {
	if _, ok := s.catalog.Get(sceneIndex); !ok {
		return false
	}
	if !s.queue.Start(sess, sceneIndex) {
		return false
	}
	s.logger.Debug("session queued", zap.String("session", sess.ID()), zap.Int("scene", sceneIndex))
	return true
}

// QueueEnd removes sess's entry for sceneIndex.
//
// Postcondition: Returns true iff an entry was removed.
func (s *Server) QueueEnd(sess *Session, sceneIndex int) bool {
	if !s.queue.End(sess, sceneIndex) {
		return false
	}
	s.logger.Debug("session dequeued", zap.String("session", sess.ID()), zap.Int("scene", sceneIndex))
	return true
}

// LeaveRoom removes sess from its room without closing its connection.
//
// Postcondition: Returns false if sess is not in a room.
func (s *Server) LeaveRoom(sess *Session) bool {
	room := sess.Room()
	if room == nil {
		return false
	}
	if !s.removeFromRoom(room, sess) {
		return false
	}
	_ = sess.Push(protocol.Left(room.ID()))
	return true
}

// NotifySessionFailed purges sess from the registry, the queue and its room,
// then closes its connection. Repeated calls are no-ops.
func (s *Server) NotifySessionFailed(sess *Session, err error) {
	if s.purge(sess, ReasonFailed) {
		s.logger.Info("client disconnected", zap.String("session", sess.ID()), zap.Error(err))
	}
}

// purge tears sess down. Only the caller that removes sess from the registry
// does the work.
func (s *Server) purge(sess *Session, reason string) bool {
	if !s.sessions.Remove(sess) {
		return false
	}
	room, _ := sess.close()
	s.queue.Remove(sess)
	if room != nil {
		s.removeFromRoom(room, sess)
	}
	s.retire(sess, reason)
	return true
}

// retire folds a closed session's counters into the totals and reports it.
func (s *Server) retire(sess *Session, reason string) {
	s.totals.received.Add(sess.MessagesReceived())
	s.totals.sent.Add(sess.MessagesSent())

	report := SessionReport{
		SessionID:   sess.ID(),
		RemoteAddr:  sess.RemoteAddr(),
		ConnectedAt: sess.ConnectedAt(),
		ClosedAt:    time.Now(),
		Received:    sess.MessagesReceived(),
		Sent:        sess.MessagesSent(),
		Reason:      reason,
	}
	s.record(func(ctx context.Context) error { return s.recorder.SessionClosed(ctx, report) })
}

// removeFromRoom removes sess from room and closes the room if it emptied.
func (s *Server) removeFromRoom(room *Room, sess *Session) bool {
	removed, remaining := room.Remove(sess)
	if removed && remaining == 0 && s.cfg.Matchmaking.CloseEmptyRooms {
		s.closeRoom(room)
	}
	return removed
}

func (s *Server) closeRoom(room *Room) {
	if !s.rooms.Remove(room) {
		return
	}
	report := room.report()
	room.Close()
	s.recordRoomClosed(report)
	s.logger.Info("room closed", zap.String("room", room.ID()), zap.String("scene", room.Scene().Name))
}

func (s *Server) recordRoomClosed(report RoomReport) {
	report.ClosedAt = time.Now()
	s.record(func(ctx context.Context) error { return s.recorder.RoomClosed(ctx, report) })
}

// formRoom opens a room on sc for sessions. It runs under the queue lock.
// Sessions that closed since queueing are dropped; if the rest fall below the
// scene's minimum no room is formed.
func (s *Server) formRoom(ctx context.Context, sc *scene.Scene, sessions []*Session) bool {
	room := NewRoom(sc, len(sessions), sessions, s.NotifySessionFailed, s.cfg.Room.BroadcastBuffer, s.logger)
	for _, m := range sessions {
		if !m.JoinRoom(room) {
			room.Remove(m)
		}
	}
	if room.Len() < sc.Room.MinimumPlayers {
		room.release()
		s.logger.Debug("room formation abandoned", zap.String("scene", sc.Name), zap.Int("joined", room.Len()))
		return false
	}

	s.rooms.Add(room)
	s.totals.rooms.Add(1)
	members := room.Members()
	for _, m := range members {
		if err := m.Push(protocol.RoomJoined(room.ID(), sc.Index, sc.Name, len(members))); err != nil {
			go s.NotifySessionFailed(m, err)
		}
	}
	room.StartBroadcast(ctx)

	report := room.report()
	s.record(func(ctx context.Context) error { return s.recorder.RoomOpened(ctx, report) })
	s.logger.Info("room formed",
		zap.String("room", room.ID()),
		zap.String("scene", sc.Name),
		zap.Int("members", len(members)),
	)
	return true
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var backoff time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.logger.Error("accepting connection", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		s.accept(ctx, raw)
	}
}

// accept registers a session for raw and starts its goroutines.
func (s *Server) accept(ctx context.Context, raw net.Conn) {
	conn := transport.NewConn(raw, s.cfg.Listener.ReadTimeout, s.cfg.Listener.WriteTimeout)
	sess := newSession(conn, s.cfg.Listener.OutboxSize)
	s.sessions.Add(sess)
	s.totals.accepted.Add(1)
	n := s.accepted.Add(1)

	_ = sess.Push(protocol.Welcome(sess.ID()))
	s.conns.Add(2)
	go s.writeLoop(sess)
	go s.readLoop(sess)

	s.logger.Info("client connected", zap.String("session", sess.ID()), zap.String("remote_addr", sess.RemoteAddr()))

	if s.cfg.Matchmaking.LegacyPairing {
		s.legacyPair(ctx, sess, n)
	}
}

// legacyPair places the first two sessions of a run into a room on the
// legacy scene. It fires at most once per run.
func (s *Server) legacyPair(ctx context.Context, sess *Session, n int64) {
	switch n {
	case 1:
		s.legacyFirst.Store(sess)
	case 2:
		first := s.legacyFirst.Swap(nil)
		if first == nil {
			return
		}
		ok := s.queue.withdraw([]*Session{first, sess}, func(pair []*Session) bool {
			return s.formRoom(ctx, scene.Legacy(), pair)
		})
		if !ok {
			s.logger.Debug("legacy pairing skipped", zap.String("first", first.ID()), zap.String("second", sess.ID()))
		}
	}
}

func (s *Server) writeLoop(sess *Session) {
	defer s.conns.Done()
	if err := sess.drain(); err != nil {
		s.NotifySessionFailed(sess, err)
	}
}

func (s *Server) notifyStatus(running bool) {
	for _, fn := range s.listeners {
		fn(running)
	}
}

func (s *Server) recordTimeout() time.Duration {
	if d := s.cfg.Database.WriteTimeout; d > 0 {
		return d
	}
	return recordTimeout
}

// record runs fn in the background with a bounded context. Failures are
// logged and never reach matchmaking.
func (s *Server) record(fn func(ctx context.Context) error) {
	s.reports.Add(1)
	go func() {
		defer s.reports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.recordTimeout())
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Warn("recording stats", zap.Error(err))
		}
	}()
}
