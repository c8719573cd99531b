/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lending ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Build the zap logger
  3. Open the SQLite store
  4. Construct the engine: recalculator -> services -> command layer
  5. Configure HTTP router
  6. Start the deduction scheduler
  7. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

ENVIRONMENT:
  PORT, DB_PATH, LOG_LEVEL, DEFAULT_RATE, DEDUCT_SAME_MONTH,
  FY_START_MONTH, UNDO_DEPTH, SCHEDULER_ENABLED, SCHEDULER_INTERVAL.
  See config/config.go for defaults.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/lending-engine/api"
	"github.com/warp/lending-engine/config"
	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/loan"
	"github.com/warp/lending-engine/store/sqlite"
	"github.com/warp/lending-engine/txn"
	"github.com/warp/lending-engine/undo"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err), zap.String("path", cfg.DBPath))
	}
	defer store.Close()

	// Engine wiring: the recalculator is shared by every service.
	recalc := ledger.NewRecalculator(store, cfg.DefaultRate, cfg.DeductSameMonth)
	loans := loan.NewService(store, recalc, logger)
	txm := txn.NewManager(store, recalc, logger)
	undoMgr := undo.NewManager(cfg.UndoDepth, logger)

	metrics := api.NewMetrics()
	handler := api.NewHandler(store, recalc, loans, txm, undoMgr, metrics, cfg.FYStartMonth, logger)
	router := api.NewRouter(handler)

	scheduler := api.NewCatchUpScheduler(store, loans, metrics, logger)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
