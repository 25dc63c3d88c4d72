/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the collection management server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env file, then process environment)
  2. Set up structured logging
  3. Open the configured store (memory, sqlite or postgres)
  4. Build record store, importer and import limiter
  5. Configure HTTP router
  6. Start server with graceful shutdown

CONFIGURATION:
  All settings come from environment variables, see config/config.go.
  The most common ones:
    STORE_DRIVER   memory | sqlite | postgres (default: sqlite)
    SQLITE_PATH    SQLite database path (default: collections.db)
    DATABASE_URL   PostgreSQL connection string
    PORT           HTTP server port (default: 8000)
    LOG_LEVEL      debug | info | warn | error

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Refuse new imports (503), wait for running ones (SERVER_SHUTDOWN_TIMEOUT)
  2. Stop accepting new connections and drain active requests
  3. Close the store
  4. Exit

EXAMPLES:
  # Run with the default SQLite file
  ./server

  # Run in memory
  STORE_DRIVER=memory ./server

  # Run against PostgreSQL
  STORE_DRIVER=postgres DATABASE_URL=postgres://localhost/collections ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Database implementations
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/collections/api"
	"github.com/warp/collections/collection"
	"github.com/warp/collections/collection/store"
	"github.com/warp/collections/config"
	"github.com/warp/collections/logging"
	"github.com/warp/collections/store/postgres"
	"github.com/warp/collections/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()

	records := collection.NewRecordStore(backend.store,
		collection.WithTimeout(cfg.Store.Timeout),
		collection.WithReadRetries(cfg.Store.ReadRetries, collection.DefaultReadBackoff),
	)
	importer := collection.NewImporter(records, collection.WithWorkers(cfg.Import.Workers))
	limiter := api.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)

	handler := api.NewHandler(records, importer, limiter)
	handler.MaxUploadSize = cfg.Import.MaxFileSize
	handler.Store = backend.pinger

	var identity api.IdentityVerifier = api.HeaderIdentity{Header: cfg.Security.IdentityHeader}
	if cfg.Security.RequireAPIKey {
		identity = api.APIKeyIdentity{Next: identity, Keys: cfg.Security.APIKeys}
	}

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Identity:       identity,
		IdentityHeader: cfg.Security.IdentityHeader,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", server.Addr, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	limiter.Close()
	if active := limiter.ActiveCount(); active > 0 {
		slog.Info("waiting for imports to complete", "active", active)
		if err := limiter.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// openedStore bundles a backend with its health check and cleanup.
type openedStore struct {
	store  collection.TxStore
	pinger api.Pinger
	close  func() error
}

func openStore(ctx context.Context, cfg config.StoreConfig) (openedStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store, records are lost on restart")
		return openedStore{store: store.NewMemory(), close: func() error { return nil }}, nil

	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return openedStore{}, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		slog.Info("connected to database", "driver", "sqlite", "path", cfg.SQLitePath)
		return openedStore{store: s, pinger: s, close: s.Close}, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, postgres.Config{
			URL:      cfg.DatabaseURL,
			MaxConns: int32(cfg.MaxConns),
			MinConns: int32(cfg.MinConns),
		})
		if err != nil {
			return openedStore{}, fmt.Errorf("open postgres: %w", err)
		}
		slog.Info("connected to database", "driver", "postgres")
		return openedStore{store: s, pinger: s, close: s.Close}, nil

	default:
		return openedStore{}, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
