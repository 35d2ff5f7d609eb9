/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the holiday entitlement server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env file, then environment)
  2. Apply command-line overrides
  3. Build the zap logger and Prometheus registry
  4. Open the SQLite store (migrations run on open)
  5. Create services, API handler and router
  6. Start the year-end rollover scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go. The most used keys are PORT, DB_PATH, ENV,
  LOG_LEVEL, LEAVE_YEAR_START_MONTH, LEAVE_EFFECTIVE_DAY_HOURS and
  LEAVE_MAX_REQUEST_DAYS.
  Demo scenarios are mounted unless ENV=production.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the rollover scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/holiday.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/holiday-engine/api"
	"github.com/warp/holiday-engine/config"
	"github.com/warp/holiday-engine/holiday"
	"github.com/warp/holiday-engine/logging"
	"github.com/warp/holiday-engine/metrics"
	"github.com/warp/holiday-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	opts := holiday.Options{
		Calendar:     cfg.Leave.Calendar(),
		Retry:        cfg.Ledger.RetryPolicy(),
		Logger:       logger,
		Metrics:      m,
		MaxRangeDays: cfg.Leave.MaxRequestDays,
	}
	imp := holiday.ImportOptions{
		Workers:           cfg.Import.Workers,
		EffectiveDayHours: cfg.Leave.EffectiveDayHours,
	}

	handler := api.NewHandler(store, opts, imp, cfg.Leave)
	handler.Scheduler = api.NewRolloverScheduler(handler.Directory, cfg.Rollover, cfg.Leave, logger)
	handler.Scheduler.Start()
	defer handler.Scheduler.Stop()
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		Logger:          logger,
		Metrics:         m,
		EnableScenarios: !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("db", cfg.Database.Path),
			zap.Int("leave_year_start_month", int(cfg.Leave.YearStartMonth)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
