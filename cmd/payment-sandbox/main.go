package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/freshmilk/internal/domain"
	"github.com/fjod/freshmilk/internal/payment/sandbox"
	"github.com/fjod/freshmilk/internal/platform/logger"
	"github.com/fjod/freshmilk/internal/platform/telemetry"
)

type Config struct {
	HTTPPort      string
	DBPath        string
	Migrations    string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	WebhookURL    string
	// Outcome pins every payment to "success" or "failure"; empty is random.
	Outcome      string
	AppEnv       string
	LogLevel     string
	OTelEndpoint string
}

func loadConfig() Config {
	return Config{
		HTTPPort:      getEnv("HTTP_PORT", "8090"),
		DBPath:        getEnv("SANDBOX_DB_PATH", "sandbox.db"),
		Migrations:    getEnv("MIGRATIONS_PATH", "migrations/sandbox"),
		KeyID:         getEnv("PAYMENT_KEY_ID", "rzp_test_key"),
		KeySecret:     getEnv("PAYMENT_KEY_SECRET", "rzp_test_secret"),
		WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", "whsec_test"),
		WebhookURL:    getEnv("WEBHOOK_URL", "http://localhost:8080/api/v1/payments/webhook"),
		Outcome:       getEnv("SANDBOX_OUTCOME", ""),
		AppEnv:        getEnv("APP_ENV", "dev"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		OTelEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()
	logger.New(logger.Options{Service: "payment-sandbox", Env: cfg.AppEnv, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTelEndpoint != "" {
		shutdownTracer, err := telemetry.SetupTracer(ctx, "payment-sandbox", cfg.AppEnv, cfg.OTelEndpoint)
		if err != nil {
			slog.Error("failed to set up tracing", "error", err)
			os.Exit(1)
		}
		defer shutdownTracer(context.Background())
	}

	store, err := sandbox.OpenStore(ctx, cfg.DBPath, cfg.Migrations)
	if err != nil {
		slog.Error("failed to open sandbox store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var outcome sandbox.OutcomePicker = sandbox.RandomOutcome{}
	switch domain.PaymentOutcome(cfg.Outcome) {
	case domain.PaymentOutcomeSuccess, domain.PaymentOutcomeFailure:
		outcome = sandbox.FixedOutcome(cfg.Outcome)
	case "":
	default:
		slog.Warn("unknown SANDBOX_OUTCOME, using random outcomes", "outcome", cfg.Outcome)
	}

	server := sandbox.NewServer(store, sandbox.Config{
		KeyID:         cfg.KeyID,
		KeySecret:     cfg.KeySecret,
		WebhookSecret: cfg.WebhookSecret,
		WebhookURL:    cfg.WebhookURL,
	}, outcome)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("payment sandbox listening", "addr", srv.Addr, "webhook_url", cfg.WebhookURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down payment sandbox")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("payment sandbox stopped")
}
