package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/user/issue-stream/internal/adapter/api"
	"github.com/user/issue-stream/internal/adapter/api/middleware"
	"github.com/user/issue-stream/internal/adapter/metrics"
	"github.com/user/issue-stream/internal/adapter/source/jira"
	transport "github.com/user/issue-stream/internal/adapter/transport/redis"
	"github.com/user/issue-stream/internal/pkg/config"
	"github.com/user/issue-stream/internal/pkg/logger"
	"github.com/user/issue-stream/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if cfg.JiraURL == "" {
		log.Error("JIRA_URL is required for the webhook server")
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// --- Admin and metrics server ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())

	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: adminMux,
	}

	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Graceful shutdown context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Redis connection and transport ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Publish failures surface as 5xx so the tracker retries; no reason
		// to refuse to start over a transient outage.
		log.Warn("could not connect to redis at startup", "error", err)
	}

	streamTransport := transport.NewTransport(redisClient, log, cfg.StreamPrefix)

	// --- Source tracker and ingest use case ---
	jiraClient := jira.NewClient(cfg.JiraURL, cfg.JiraUsername, cfg.JiraToken, log)
	ingestUseCase := usecase.NewIngestEvent(streamTransport, jiraClient, log)

	// --- Webhook server ---
	router := api.NewRouter(log, ingestUseCase, m, cfg.WebhookSecret)
	webhookServer := &http.Server{
		Addr:         cfg.WebhookAddr,
		Handler:      middleware.Logging(log)(router),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		log.Info("starting webhook server", "addr", webhookServer.Addr)
		if err := webhookServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("webhook server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}
	if err := webhookServer.Shutdown(shutdownCtx); err != nil {
		log.Error("webhook server shutdown failed", "error", err)
	}

	log.Info("servers shut down gracefully")
}
