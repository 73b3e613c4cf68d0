// Package server provides application lifecycle management including
// graceful startup and shutdown with signal handling.
package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start runs the service. It blocks until Stop is called or the service fails.
	Start() error
	// Stop asks a running service to return from Start.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// BackgroundService adapts a component whose Start returns once it is running
// and whose Wait blocks until it stops. A Stop that lands before Start
// prevents the component from starting at all.
type BackgroundService struct {
	StartFn func() error
	WaitFn  func() error
	StopFn  func()

	mu      sync.Mutex
	started bool
	stopped bool
}

// Start starts the component and blocks in WaitFn.
//
// Postcondition: Returns nil without calling StartFn if Stop already ran.
func (b *BackgroundService) Start() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	if err := b.StartFn(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.started = true
	b.mu.Unlock()
	return b.WaitFn()
}

// Stop calls StopFn if the component started. Later calls to Start are no-ops.
func (b *BackgroundService) Stop() {
	b.mu.Lock()
	b.stopped = true
	started := b.started
	b.mu.Unlock()
	if started {
		b.StopFn()
	}
}

// Lifecycle runs a set of named services. Services are started in the order
// added and stopped in reverse order.
type Lifecycle struct {
	logger   *zap.Logger
	mu       sync.Mutex
	services []namedService
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates a new Lifecycle manager.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a named service.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts every service and blocks until SIGINT or SIGTERM arrives, ctx is
// cancelled, or a service fails. It then stops every service in reverse order
// and waits for all of them to return.
//
// Postcondition: All services are stopped when Run returns. The error is the
// first service failure, or nil.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	g, gctx := errgroup.WithContext(sigCtx)
	for _, ns := range services {
		g.Go(func() error {
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				return fmt.Errorf("service %s: %w", ns.name, err)
			}
			return nil
		})
	}

	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	<-gctx.Done()
	switch {
	case ctx.Err() != nil:
		l.logger.Info("context cancelled, shutting down")
	case sigCtx.Err() != nil && errors.Is(context.Cause(gctx), context.Canceled):
		l.logger.Info("received signal, shutting down")
	default:
		l.logger.Info("service error, shutting down", zap.Error(context.Cause(gctx)))
	}

	l.shutdown(services)
	err := g.Wait()

	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return err
}

func (l *Lifecycle) shutdown(services []namedService) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service", zap.String("service", ns.name))
		ns.service.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped", zap.Duration("shutdown_elapsed", time.Since(shutdownStart)))
}
