package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vjranagit/wattcache/internal/config"
	"github.com/vjranagit/wattcache/internal/logger"
	"github.com/vjranagit/wattcache/pkg/aggregate"
	"github.com/vjranagit/wattcache/pkg/api"
	"github.com/vjranagit/wattcache/pkg/cache"
	"github.com/vjranagit/wattcache/pkg/metrics"
	"github.com/vjranagit/wattcache/pkg/storage"
	"github.com/vjranagit/wattcache/pkg/tariff"
)

const (
	version = "0.3.0"
)

func main() {
	if err := run(); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()
	logger.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	night, err := cfg.NightWindow()
	if err != nil {
		return err
	}

	logger.Info("starting wattcache",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"database", cfg.Database.Path,
		"cache_backend", cfg.Cache.Backend,
		"default_timestep", cfg.Engine.DefaultTimestep,
	)

	// Sample store and provider registry
	db, err := storage.NewSQLStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open sample store: %w", err)
	}
	defer closeLogged("sample store", db)

	store, closer, err := openCacheStore(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closeLogged("cache store", closer)
	}

	m := metrics.New()
	engine := aggregate.New(cfg.ToAggregateConfig(), db, tariff.NewConverter(db))
	cached := cache.New(store, engine, cache.WithObserver(m))

	server := api.NewServer(cfg.Server.ListenAddr, cached, db,
		api.WithMetrics(m),
		api.WithNightWindow(night),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", cfg.Server.ListenAddr)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

// openCacheStore builds the configured cache backend. The closer is nil
// when the backend holds no resources.
func openCacheStore(cfg *config.Config) (cache.Store, io.Closer, error) {
	switch cfg.Cache.Backend {
	case config.CacheBadger:
		bc, err := storage.NewBadgerCache(cfg.ToStorageConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open cache store: %w", err)
		}
		return bc, bc, nil
	case config.CacheMemory:
		return storage.NewMemoryCache(cfg.Cache.Capacity), nil, nil
	default:
		logger.Warn("result cache disabled")
		return cache.NopStore{}, nil, nil
	}
}

func closeLogged(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Warn("failed to close", "component", name, "error", err)
	}
}
