package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moneta/money-transfer/internal/domain"
	"github.com/moneta/money-transfer/internal/engine"
	"github.com/moneta/money-transfer/internal/handler"
	"github.com/moneta/money-transfer/internal/locker"
	"github.com/moneta/money-transfer/internal/middleware"
	"github.com/moneta/money-transfer/internal/queue"
	"github.com/moneta/money-transfer/internal/store"
	"github.com/moneta/money-transfer/internal/telemetry"
)

const serviceName = "money-transfer"

// Config holds application configuration
type Config struct {
	Port         int
	MetricsPort  int
	NATSUrl      string
	JournalPath  string
	LockWait     time.Duration
	GinMode      string
	OTLPEndpoint string
}

func main() {
	cfg := parseFlags()

	// Initialize structured logging
	telemetry.InitLogger(serviceName)

	// Initialize OpenTelemetry tracing
	cleanup, err := telemetry.InitTracer(serviceName, cfg.OTLPEndpoint)
	if err != nil {
		slog.Warn("failed to initialize tracer", "error", err)
	} else {
		defer cleanup()
	}

	gin.SetMode(cfg.GinMode)

	slog.Info("starting money transfer service")

	// 1. Connect to NATS
	natsClient, err := queue.NewNATSClient(cfg.NATSUrl)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()
	slog.Info("connected to NATS", "url", cfg.NATSUrl)

	// 2. Open the journal and rebuild the account table from it
	journal, err := store.OpenJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer journal.Close()

	accounts := store.NewMemStore()
	if err := journal.Replay(accounts); err != nil {
		log.Fatalf("Failed to replay journal: %v", err)
	}
	slog.Info("journal replayed", "path", cfg.JournalPath, "accounts", len(accounts.List()))

	// 3. Build the lock coordinator and the transfer engine
	locks := locker.NewCoordinator(locker.NewTable(), cfg.LockWait)
	eng := engine.New(accounts, locks, journal, domain.DefaultCurrencies(), natsClient.GetConn())

	// 4. Start consuming transfer commands from NATS
	if err := eng.Start(); err != nil {
		log.Fatalf("Failed to start transfer engine: %v", err)
	}
	defer eng.Stop()

	// 5. Setup Gin router with middleware
	h := handler.NewHandler(eng, natsClient)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Tracing())
	router.Use(middleware.Metrics())
	handler.SetupRoutes(router, h)

	// 6. HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// 7. Metrics server (separate port for Prometheus scraping)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		slog.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	go func() {
		slog.Info("metrics server listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced to shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		slog.Error("metrics server forced to shutdown", "error", err)
	}

	slog.Info("service stopped")
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", getEnvInt("PORT", 8080), "HTTP server port")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", getEnvInt("METRICS_PORT", 9090), "Metrics server port")
	flag.StringVar(&cfg.NATSUrl, "nats-url", getEnv("NATS_URL", "nats://localhost:4222"), "NATS server URL")
	flag.StringVar(&cfg.JournalPath, "journal", getEnv("JOURNAL_PATH", "data/journal.log"), "Journal file path")
	flag.DurationVar(&cfg.LockWait, "lock-wait", getEnvDuration("LOCK_WAIT", locker.DefaultWait), "Account lock wait bound")
	flag.StringVar(&cfg.GinMode, "gin-mode", getEnv("GIN_MODE", "release"), "Gin mode (debug/release)")
	flag.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "OTLP gRPC endpoint")

	flag.Parse()

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var v int
		if _, err := fmt.Sscanf(value, "%d", &v); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}
