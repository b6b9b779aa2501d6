package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"ticket-delivery/internal/config"
	"ticket-delivery/internal/delivery"
	"ticket-delivery/internal/docservice"
	"ticket-delivery/internal/http/server"
	"ticket-delivery/internal/infra/cache"
	"ticket-delivery/internal/infra/logging"
	"ticket-delivery/internal/infra/postgres"
	"ticket-delivery/internal/infra/ratelimit"
	"ticket-delivery/internal/infra/surface"
	"ticket-delivery/internal/tokens"
)

func main() {
	cfg := config.Load()
	if err := ensureLogDir(cfg.Logger.File); err != nil {
		logging.Error("Failed to create log directory", "error", err)
	}
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, cleanup, err := buildApp(ctx, cfg)
	if err != nil {
		logging.Error("Failed to start ticket agent", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// buildApp wires every dependency of the agent. cleanup releases what was opened.
func buildApp(ctx context.Context, cfg config.Config) (*fiber.App, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var gen delivery.Generator = docservice.New(cfg.Service)
	if cfg.Cache.TicketCacheEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.TicketCacheDB,
		})
		closers = append(closers, func() { _ = rdb.Close() })
		gen = docservice.NewCached(docservice.New(cfg.Service), cache.New(rdb, cfg.Cache.TicketCacheTTL))
		logging.Info("Ticket cache enabled", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.TicketCacheDB)
	}

	surf, err := surface.New(cfg.Delivery)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	logging.Info("Presentation surface ready", "surface", surf.Name())

	client := delivery.New(gen, surf, delivery.OptionsFromConfig(cfg.Delivery))

	var tc *tokens.Cache
	if cfg.Auth.Enabled {
		dsn, err := postgres.DSN(cfg.Auth.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		db := postgres.NewDB()
		closers = append(closers, func() { _ = db.Close() })

		tc = tokens.NewCache()
		reloader := tokens.NewReloader(postgres.NewTokenRepository(db, dsn), tc, cfg.Auth.ReloadInterval)
		if err := reloader.LoadOnce(ctx); err != nil {
			// /readyz stays red until a reload succeeds.
			logging.Error("Failed to load API tokens", "error", err)
		}
		reloader.Start(ctx)
	}

	store := ratelimit.NewStore(ratelimit.RedisConfig{
		Addr: cfg.Cache.RedisHost,
		DB:   cfg.Cache.RateLimitDB,
	})
	closers = append(closers, func() { _ = store.Close() })

	app := server.New(server.Deps{
		Config:   cfg,
		Delivery: client,
		Tokens:   tc,
		Store:    store,
	})
	return app, cleanup, nil
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}

func ensureLogDir(file string) error {
	if file == "" {
		return nil
	}
	dir := filepath.Dir(file)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
