/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rental billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment, see config package)
  2. Build the penalty policy
  3. Initialize SQLite store (migrations run on open)
  4. Build notification sinks (log, AMQP, SMS)
  5. Create API handler and penalty scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     Path to a .env file (default: .env, skipped if missing)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler and wait for a running sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close broker connection and database
  5. Exit

EXAMPLES:
  # Run with defaults (./data/billing.db, port 8080)
  ./server

  # Run in memory without the scheduler
  DB_PATH=":memory:" SCHEDULER_ENABLED=false ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/warp/rental-billing/api"
	"github.com/warp/rental-billing/config"
	"github.com/warp/rental-billing/generic"
	"github.com/warp/rental-billing/notify"
	"github.com/warp/rental-billing/store/sqlite"
)

func main() {
	envFile := flag.String("env", ".env", "Path to a .env file")
	flag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	policy, err := cfg.Policy()
	if err != nil {
		logger.Error("invalid penalty policy", "error", err)
		os.Exit(1)
	}

	// Initialize store
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			logger.Error("failed to create data directory", "error", err)
			os.Exit(1)
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to initialize database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Notification sinks
	sinks := notify.Fanout{notify.NewLogNotifier(logger)}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.DialAMQP(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			logger.Error("failed to connect to broker", "error", err)
			os.Exit(1)
		}
		defer amqpNotifier.Close()
		sinks = append(sinks, amqpNotifier)
		logger.Info("broker notifications enabled", "exchange", cfg.NotifyExchange)
	}
	if cfg.TwilioAccountSID != "" {
		sinks = append(sinks, notify.NewTwilioNotifier(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber))
		logger.Info("sms notifications enabled")
	}

	clock := generic.SystemClock{}
	handler, err := api.NewHandler(store, policy, clock, sinks, logger)
	if err != nil {
		logger.Error("failed to create handler", "error", err)
		os.Exit(1)
	}

	// Scheduler
	if cfg.SchedulerEnabled {
		scheduler, err := api.NewPenaltyScheduler(handler.Lifecycle, handler.Generator, store, clock, logger,
			cfg.TickSchedule, cfg.AuditSchedule)
		if err != nil {
			logger.Error("invalid scheduler configuration", "error", err)
			os.Exit(1)
		}
		handler.Scheduler = scheduler
		scheduler.Start()
	} else {
		logger.Info("scheduler disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, cfg.Origins()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.SchedulerEnabled {
		select {
		case <-handler.Scheduler.Stop().Done():
		case <-ctx.Done():
			logger.Warn("scheduler did not stop in time")
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
