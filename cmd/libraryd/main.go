// cmd/libraryd/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"libraryhub/internal/api"
	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/config"
	"libraryhub/internal/membership"
	"libraryhub/internal/store"
	"libraryhub/internal/store/memstore"
	"libraryhub/internal/store/redislock"
	"libraryhub/internal/store/sqlstore"
	"libraryhub/internal/telemetry"
	"libraryhub/pkg/eventstore"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores := &storeHolder{}
	if err := serve(ctx, *configPath, stores); err != nil {
		slog.Error("libraryd stopped", "error", err)
		stores.Close()
		os.Exit(1)
	}
	stores.Close()
}

// serve runs the server until ctx is done, starting it again each time the
// config file changes. The record store in stores outlives the restarts.
func serve(ctx context.Context, configPath string, stores *storeHolder) error {
	for {
		reload, err := run(ctx, configPath, stores)
		if err != nil {
			return err
		}
		if !reload {
			return nil
		}
	}
}

// run serves until ctx is done or the config file changes. It reports
// whether the server should be started again with a fresh config.
func run(ctx context.Context, configPath string, stores *storeHolder) (bool, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return false, err
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return false, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	_, shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return false, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	records, health, err := stores.Open(ctx, cfg, logger)
	if err != nil {
		return false, err
	}

	var opts []circulation.Option
	opts = append(opts, circulation.WithLogger(logger))

	if cfg.EventStore.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.EventStore.URL)
		if err != nil {
			return false, fmt.Errorf("failed to open event store: %w", err)
		}
		defer pool.Close()

		journal, err := eventstore.NewEventStore(pool)
		if err != nil {
			return false, err
		}
		if err := journal.Migrate(ctx); err != nil {
			return false, fmt.Errorf("failed to migrate event store: %w", err)
		}
		opts = append(opts, circulation.WithJournal(journal))
		logger.Info("loan journal enabled")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return false, fmt.Errorf("failed to reach redis: %w", err)
		}
		locker, err := redislock.New(client,
			redislock.WithTTL(cfg.Redis.LockTTL),
			redislock.WithLogger(logger),
		)
		if err != nil {
			return false, err
		}
		opts = append(opts, circulation.WithLocker(locker))
		logger.Info("using redis book locks", "addr", cfg.Redis.Addr)
	}

	router := api.NewRouter(api.Services{
		Catalog:     catalog.NewService(records, logger),
		Membership:  membership.NewService(records, logger),
		Circulation: circulation.NewService(records, opts...),
	}, api.Options{
		Logger:    logger,
		RateLimit: cfg.RateLimit.RPS,
		Burst:     cfg.RateLimit.Burst,
		TokenHash: cfg.Auth.TokenHash,
		Health:    health,
	})

	serveCtx := ctx
	if configPath != "" {
		watchCtx, cancel, err := config.UntilModified(ctx, configPath)
		if err != nil {
			return false, err
		}
		defer cancel()
		serveCtx = watchCtx
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting libraryd", "port", cfg.Port, "store", cfg.Store.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return false, err
		}
		return false, nil
	case <-serveCtx.Done():
	}

	reload := ctx.Err() == nil
	if reload {
		logger.Info("config changed, restarting", "cause", context.Cause(serveCtx))
	} else {
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return false, fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return reload, nil
}

// storeHolder keeps the record store open across config reloads. It is only
// reopened when the store settings change.
type storeHolder struct {
	driver  string
	dsn     string
	records store.RecordStore
	health  func(context.Context) error
	close   func()
}

// Open returns the current store, replacing it first when cfg names a
// different driver or DSN.
func (h *storeHolder) Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.RecordStore, func(context.Context) error, error) {
	if h.records != nil && h.matches(cfg.Store) {
		return h.records, h.health, nil
	}
	if h.records != nil {
		logger.Warn("store settings changed, reopening the record store",
			"from", h.driver,
			"to", cfg.Store.Driver,
		)
		h.Close()
	}

	records, health, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	h.driver, h.dsn = cfg.Store.Driver, cfg.Store.DSN
	h.records, h.health, h.close = records, health, closeStore
	return records, health, nil
}

func (h *storeHolder) matches(sc config.StoreConfig) bool {
	if h.driver != sc.Driver {
		return false
	}
	return sc.Driver == config.DriverMemory || h.dsn == sc.DSN
}

func (h *storeHolder) Close() {
	if h.close != nil {
		h.close()
	}
	h.driver, h.dsn = "", ""
	h.records, h.health, h.close = nil, nil, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.RecordStore, func(context.Context) error, func(), error) {
	if cfg.Store.Driver == config.DriverMemory {
		return memstore.New(), nil, func() {}, nil
	}

	s, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, nil, nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	health := func(ctx context.Context) error { return s.DB().PingContext(ctx) }
	return s, health, func() { s.Close() }, nil
}
