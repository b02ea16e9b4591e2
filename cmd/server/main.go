/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commerce ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (viper: env vars over defaults)
  2. Initialize SQLite store
  3. Ensure the platform and escrow system accounts exist
  4. Load the fee rule set (JSON file, or the standard preset)
  5. Start the event bus and wire the payment orchestrator
  6. Start the HTTP server with graceful shutdown

CONFIGURATION (environment variables):
  LEDGER_PORT               HTTP server port (default: 8080)
  LEDGER_DB_PATH            SQLite database path (default: ledger.db,
                            use ":memory:" for in-memory)
  LEDGER_LOCK_WAIT          Bounded wait for payment locks (default: 3s)
  LEDGER_CURRENCY           Currency for system accounts (default: USD)
  LEDGER_FEE_RULES_PATH     JSON fee rule set; empty = standard preset
  LEDGER_REFUND_FEE_POLICY  "retain" or "return" (default: retain)
  LEDGER_AUDIT_INTERVAL     Zero-sum audit sweep interval, 0 disables
                            (default: 1h)
  LEDGER_LOG_LEVEL          zerolog level (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the event bus and database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/meridian/commerce-ledger/api"
	"github.com/meridian/commerce-ledger/events"
	"github.com/meridian/commerce-ledger/fees"
	"github.com/meridian/commerce-ledger/ledger"
	"github.com/meridian/commerce-ledger/payments"
	"github.com/meridian/commerce-ledger/store/sqlite"
)

func main() {
	loadConfig()

	log := newLogger(viper.GetString("log_level"))

	// Initialize store
	store, err := sqlite.New(viper.GetString("db_path"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()
	store.SetLockWait(viper.GetDuration("lock_wait"))

	// Domain services
	engine := ledger.NewEngine(store)
	manager := ledger.NewManager(store, store, store)

	ctx := context.Background()
	system, err := manager.EnsureSystemAccounts(ctx, viper.GetString("currency"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to provision system accounts")
	}
	log.Info().
		Str("platform_account", string(system.PlatformFees.ID)).
		Str("escrow_account", string(system.Escrow.ID)).
		Msg("system accounts ready")

	rules, err := loadFeeRules(viper.GetString("fee_rules_path"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load fee rule set")
	}
	log.Info().Str("version", rules.Version).Int("rules", len(rules.Rules)).Msg("fee rule set loaded")

	// Event bus
	bus := events.NewBus(log)
	defer bus.Close()
	go logCapturedPayments(ctx, bus, log)

	orchestrator, err := payments.New(payments.Config{
		Payments:   store,
		Locks:      store,
		Accounts:   manager,
		Engine:     engine,
		Rules:      rules,
		RefundFees: payments.RefundFeePolicy(viper.GetString("refund_fee_policy")),
		Notifier:   bus,
		Logger:     log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build payment orchestrator")
	}

	// HTTP
	handler := api.NewHandler(manager, engine, orchestrator, rules, log)
	router := api.NewRouter(handler)

	// Background zero-sum audit sweep
	if interval := viper.GetDuration("audit_interval"); interval > 0 {
		auditor := api.NewAuditor(engine, store, log)
		auditor.SweepInterval = interval
		auditor.Start()
		defer auditor.Stop()
	}

	port := viper.GetInt("port")
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func loadConfig() {
	viper.SetEnvPrefix("ledger")
	viper.AutomaticEnv()

	viper.SetDefault("port", 8080)
	viper.SetDefault("db_path", "ledger.db")
	viper.SetDefault("lock_wait", sqlite.DefaultLockWait)
	viper.SetDefault("currency", ledger.DefaultCurrency)
	viper.SetDefault("fee_rules_path", "")
	viper.SetDefault("refund_fee_policy", string(payments.RefundFeeRetain))
	viper.SetDefault("audit_interval", time.Hour)
	viper.SetDefault("log_level", "info")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// loadFeeRules reads a JSON rule set from disk, falling back to the standard
// marketplace preset when no path is configured.
func loadFeeRules(path string) (fees.RuleSet, error) {
	if path == "" {
		return fees.StandardMarketplaceRules("standard-" + time.Now().UTC().Format("2006-01")), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fees.RuleSet{}, fmt.Errorf("read fee rules %s: %w", path, err)
	}
	return fees.ParseRuleSet(data)
}

// logCapturedPayments is a demo subscriber: downstream consumers (receipts,
// notifications) attach to the bus the same way.
func logCapturedPayments(ctx context.Context, bus *events.Bus, log zerolog.Logger) {
	msgs, err := bus.Subscribe(ctx, events.TopicPaymentCaptured)
	if err != nil {
		log.Error().Err(err).Msg("subscribe to captured payments")
		return
	}
	for msg := range msgs {
		log.Info().
			Str("payment_id", msg.Metadata.Get("payment_id")).
			Str("order_id", msg.Metadata.Get("order_id")).
			Msg("payment captured event")
		msg.Ack()
	}
}
