package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Monadical-SAS/socketrouter/internal/config"
	"github.com/Monadical-SAS/socketrouter/internal/database"
	"github.com/Monadical-SAS/socketrouter/internal/group"
	"github.com/Monadical-SAS/socketrouter/internal/registry"
	"github.com/Monadical-SAS/socketrouter/internal/server"
	"github.com/Monadical-SAS/socketrouter/internal/session"
	"github.com/Monadical-SAS/socketrouter/internal/socket"
	"github.com/Monadical-SAS/socketrouter/internal/sweeper"
	"github.com/Monadical-SAS/socketrouter/internal/transport"
	"github.com/Monadical-SAS/socketrouter/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/socketd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting socketd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"listen_addr", cfg.Server.ListenAddr,
		"registry_backend", cfg.Registry.Backend,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// A single Redis client is shared by every backend that needs one.
	var redisClient *redis.Client
	if cfg.Registry.Backend == "redis" || cfg.Session.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// Connection registry
	var store registry.Store
	switch cfg.Registry.Backend {
	case "memory":
		store = registry.NewMemory()
	case "redis":
		store = registry.NewRedis(redisClient)
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := registry.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		store = pg
		logger.Info("database connected", "host", cfg.Database.Postgres.Host)
	}
	defer store.Close()

	// Session store
	var sessions session.Store
	switch cfg.Session.Backend {
	case "memory":
		sessions = session.NewMemory()
	case "redis":
		sessions = session.NewRedis(redisClient)
	}

	// Transport, group addressor, sweeper, lifecycle
	channels := transport.NewLocal(logger)
	groups := group.NewAddressor(channels, cfg.Socket.RoutingKey, logger)

	sw := sweeper.New(sweeper.Config{
		GraceWindow: cfg.Sweeper.GraceWindow,
		Interval:    cfg.Sweeper.Interval,
	}, store, groups, logger)

	lifecycle := socket.New(socket.Config{
		RoutingKey:    cfg.Socket.RoutingKey,
		LoginRequired: cfg.Socket.LoginRequired,
		Diagnostic:    cfg.Socket.Diagnostic,
	}, store, sessions, channels, sw, logger)

	srv := server.New(server.Config{
		ListenAddr:       cfg.Server.ListenAddr,
		WSPath:           cfg.Server.WSPath,
		CookieName:       cfg.Session.CookieName,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		ReadLimit:        cfg.Server.ReadLimit,
	}, lifecycle, channels, logger)

	if err := sw.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := sw.Stop(stopCtx); err != nil {
		logger.Warn("sweeper stop timed out", "error", err)
	}

	logger.Info("socketd stopped")
}
