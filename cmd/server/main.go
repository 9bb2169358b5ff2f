/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the shift engine server. Handles configuration,
  dependency injection, the sweep scheduler, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, SHIFT_ENGINE_* environment, flags)
  2. Open the store (SQLite file or in-memory)
  3. Load the shift registry, seeding it from YAML when configured
  4. Load bonus rules; wrap settings in the Redis cache when configured
  5. Wire ledger, commissions, state machine and handlers
  6. Start the sweep scheduler and the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store and the Redis client

EXAMPLES:
  ./server --db=./data/shifts.db --shift-types=./shifts.example.yaml
  ./server --store=memory --port=3000 --log-format=json
  SHIFT_ENGINE_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Every option and its environment variable
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warp/shift-engine/api"
	"github.com/warp/shift-engine/bonus"
	"github.com/warp/shift-engine/config"
	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/core/store"
	"github.com/warp/shift-engine/earnings"
	"github.com/warp/shift-engine/factory"
	"github.com/warp/shift-engine/settings"
	"github.com/warp/shift-engine/shift"
	"github.com/warp/shift-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := shift.NewRegistry(st)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("loading shift registry: %w", err)
	}
	if cfg.ShiftTypesFile != "" {
		defs, err := shift.LoadDefinitionsFile(cfg.ShiftTypesFile)
		if err != nil {
			return err
		}
		if err := registry.Seed(ctx, defs); err != nil {
			return fmt.Errorf("seeding shift types: %w", err)
		}
		logger.Info().Str("file", cfg.ShiftTypesFile).Int("definitions", len(defs)).Msg("shift types seeded")
	}

	book := factory.NewRuleBook(factory.RuleBookConfig{Store: st, Logger: component(logger, "rules")})
	if err := book.Refresh(ctx); err != nil {
		return fmt.Errorf("loading bonus rules: %w", err)
	}

	var provider settings.Provider = settings.NewStoreProvider(st)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		provider = settings.NewRedisCache(settings.RedisCacheConfig{
			Client: client,
			Next:   provider,
			TTL:    cfg.SettingsTTL,
			Logger: component(logger, "settings"),
		})
		logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.SettingsTTL).Msg("settings cache enabled")
	}

	engine := bonus.NewEngine(bonus.EngineConfig{Rules: book, Settings: provider, Logger: component(logger, "bonus")})
	ledger := earnings.NewLedger(earnings.LedgerConfig{Store: st, Logger: component(logger, "ledger")})
	commissions := earnings.NewCommissions(earnings.CommissionsConfig{Store: st, Engine: engine, Logger: component(logger, "commissions")})
	machine := shift.NewMachine(shift.MachineConfig{
		Store:       st,
		Registry:    registry,
		Ledger:      ledger,
		Commissions: commissions,
		Settings:    provider,
		Logger:      component(logger, "shift"),
		Debounce:    cfg.Debounce,
	})

	sweeps := api.NewSweepScheduler(api.SweepSchedulerConfig{
		Closer:         machine.AutoCloser(),
		Interval:       cfg.SweepInterval,
		MissedInterval: cfg.MissedSweepInterval,
		Logger:         component(logger, "scheduler"),
	})
	if err := sweeps.Start(); err != nil {
		return err
	}
	defer sweeps.Stop()

	handler := api.NewHandler(api.HandlerConfig{
		Machine:     machine,
		Registry:    registry,
		Ledger:      ledger,
		Commissions: commissions,
		Rules:       book,
		Settings:    provider,
		Sweeps:      sweeps,
		Logger:      component(logger, "api"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Port).Str("store", cfg.Store).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func openStore(cfg config.Config) (core.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		return store.NewMemory(), func() {}, nil
	}
	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database %s: %w", cfg.DBPath, err)
	}
	return st, func() { st.Close() }, nil
}

func component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
