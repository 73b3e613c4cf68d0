// Package main provides the matchmaking server binary: the TCP matchmaking
// listener, the optional PostgreSQL stats sink, and the optional admin gRPC
// health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/matchrelay/internal/admin"
	"github.com/cory-johannsen/matchrelay/internal/config"
	"github.com/cory-johannsen/matchrelay/internal/match"
	"github.com/cory-johannsen/matchrelay/internal/observability"
	"github.com/cory-johannsen/matchrelay/internal/scene"
	"github.com/cory-johannsen/matchrelay/internal/server"
	"github.com/cory-johannsen/matchrelay/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	scenesPath := flag.String("scenes", "", "path to scene catalog YAML (overrides matchmaking.scenes_file)")
	port := flag.Int("port", -1, "listen port (overrides listener.port; 0 = ephemeral)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *scenesPath != "" {
		cfg.Matchmaking.ScenesFile = *scenesPath
	}
	if *port >= 0 {
		cfg.Listener.Port = *port
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	catalog, err := scene.LoadCatalogFromFile(cfg.Matchmaking.ScenesFile)
	if err != nil {
		logger.Fatal("loading scene catalog", zap.String("path", cfg.Matchmaking.ScenesFile), zap.Error(err))
	}
	logger.Info("scene catalog loaded",
		zap.Int("scenes", catalog.Len()),
		zap.Int("matchable", len(catalog.Matchable())),
	)
	if cfg.Matchmaking.LegacyPairing {
		logger.Warn("legacy two-player pairing is enabled; it is deprecated and will be removed")
	}

	lifecycle := server.NewLifecycle(logger)
	var opts []match.Option

	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		if err := pool.EnsureSchema(ctx); err != nil {
			pool.Close()
			logger.Fatal("checking stats schema", zap.Error(err))
		}
		opts = append(opts, match.WithRecorder(postgres.NewStatsRepository(pool.DB())))

		monitorCtx, stopMonitor := context.WithCancel(ctx)
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				pool.Monitor(monitorCtx, 30*time.Second, 5*time.Second, logger.Named("postgres"))
				return nil
			},
			StopFn: func() {
				stopMonitor()
				pool.Close()
			},
		})
	}

	var health *admin.Health
	if cfg.Admin.Enabled {
		health = admin.NewHealth(logger.Named("admin"))
		opts = append(opts, match.WithStatusListener(health.SetRunning))
	}

	srv := match.NewServer(cfg, catalog, logger.Named("match"), opts...)
	lifecycle.Add("matchmaking", &server.BackgroundService{
		StartFn: func() error { return srv.Start(cfg.Listener.Port) },
		WaitFn: func() error {
			if err := srv.Wait(); err != nil && !errors.Is(err, match.ErrNotRunning) {
				return err
			}
			return nil
		},
		StopFn: func() {
			if err := srv.Stop(); err != nil {
				logger.Error("stopping matchmaking server", zap.Error(err))
			}
		},
	})

	if health != nil {
		lifecycle.Add("admin", admin.NewServer(cfg.Admin, health, logger.Named("admin")))
	}

	logger.Info("matchd initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Listener.Addr(cfg.Listener.Port)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
