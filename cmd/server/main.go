/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the farm ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults < optional YAML < FARMLEDGER_* env)
  2. Initialize logger and metrics
  3. Initialize SQLite store
  4. Wire ledger services and API handler
  5. Start server with graceful shutdown

CONFIGURATION:
  -config  Path to a YAML config file (optional)
  Everything else comes from config defaults or environment:
    FARMLEDGER_ADDR             listen address (default :8624)
    FARMLEDGER_DB_PATH          SQLite path (default farmledger.db)
    FARMLEDGER_LOG_LEVEL        info|debug
    FARMLEDGER_DEBT_LIMIT       per-worker ceiling, 0 = unlimited
    FARMLEDGER_INTEREST_METHOD  simple|compound

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - config/config.go: Configuration loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sakahan/farm-ledger/api"
	"github.com/sakahan/farm-ledger/config"
	"github.com/sakahan/farm-ledger/ledger"
	"github.com/sakahan/farm-ledger/observability"
	"github.com/sakahan/farm-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	metrics := observability.NewMetrics()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer store.Close()

	debts := ledger.NewDebtLedger(store).WithDebtLimit(ledger.Money{Value: cfg.DebtLimit})
	payments := ledger.NewPaymentProcessor(store, debts)
	reconciler := ledger.NewBalanceReconciler(store)

	handler := api.NewHandler(store, debts, payments, reconciler, logger, metrics)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("db", cfg.DBPath),
			zap.String("debt_limit", cfg.DebtLimit.String()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
