package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/user/issue-stream/internal/adapter/api"
	"github.com/user/issue-stream/internal/adapter/enrich/anthropic"
	"github.com/user/issue-stream/internal/adapter/enrich/openai"
	"github.com/user/issue-stream/internal/adapter/metrics"
	"github.com/user/issue-stream/internal/adapter/store/postgres"
	transport "github.com/user/issue-stream/internal/adapter/transport/redis"
	"github.com/user/issue-stream/internal/domain"
	"github.com/user/issue-stream/internal/pkg/config"
	"github.com/user/issue-stream/internal/pkg/logger"
	"github.com/user/issue-stream/internal/usecase"
)

const (
	enrichGroup  = "enrich-workers"
	persistGroup = "persist-workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting pipeline worker")

	if cfg.PostgresURL == "" {
		log.Error("POSTGRES_URL is required for the worker")
		os.Exit(1)
	}
	if cfg.OpenAIAPIKey == "" {
		log.Error("OPENAI_API_KEY is required for the worker")
		os.Exit(1)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	store, err := postgres.NewStore(db, log, cfg.StoreTable)
	if err != nil {
		log.Error("failed to create vector store", "error", err)
		os.Exit(1)
	}

	// --- Enrichment backends ---
	embedder := openai.NewEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)

	var summarizer domain.Summarizer
	switch cfg.GeneratorProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Error("ANTHROPIC_API_KEY is required with GENERATOR_PROVIDER=anthropic")
			os.Exit(1)
		}
		summarizer = anthropic.NewSummarizer(cfg.AnthropicAPIKey, cfg.SummaryModel)
	default:
		summarizer = openai.NewSummarizer(cfg.OpenAIAPIKey, cfg.SummaryModel)
	}

	consumerName, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		consumerName = "worker-default"
	}

	// --- Transports, one consumer group per stage ---
	enrichTransport := transport.NewTransport(redisClient, log, cfg.StreamPrefix,
		transport.WithConsumerGroup(enrichGroup, consumerName))
	persistTransport := transport.NewTransport(redisClient, log, cfg.StreamPrefix,
		transport.WithConsumerGroup(persistGroup, consumerName))

	if err := enrichTransport.EnsureGroup(ctx, domain.ChannelRaw); err != nil {
		log.Error("failed to set up raw channel", "error", err)
		os.Exit(1)
	}
	if err := persistTransport.EnsureGroup(ctx, domain.ChannelEnriched); err != nil {
		log.Error("failed to set up enriched channel", "error", err)
		os.Exit(1)
	}

	// Retry pumps requeue nacked messages once their backoff elapses; the
	// reclaimers requeue messages whose consumer lease expired.
	go enrichTransport.RunRetryPump(ctx, domain.ChannelRaw, cfg.RetryPumpInterval)
	go enrichTransport.RunReclaim(ctx, domain.ChannelRaw, cfg.LeaseTimeout, cfg.ReclaimInterval)
	go persistTransport.RunRetryPump(ctx, domain.ChannelEnriched, cfg.RetryPumpInterval)
	go persistTransport.RunReclaim(ctx, domain.ChannelEnriched, cfg.LeaseTimeout, cfg.ReclaimInterval)

	// --- Admin and metrics server ---
	adminUseCase := usecase.NewStreamAdmin(transport.NewAdmin(redisClient, log, cfg.StreamPrefix))
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.Handle("/", api.NewAdminRouter(adminUseCase, log))

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

	// --- Stages ---
	enrichStage := usecase.NewEnrichStage(enrichTransport, embedder, summarizer, log, m,
		cfg.MaxAttempts, cfg.MaxInputChars, cfg.ReceiveBatch)
	persistStage := usecase.NewPersistStage(persistTransport, store, log, m,
		cfg.EmbeddingDim, cfg.MaxAttempts, cfg.ReceiveBatch)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		enrichStage.Run(ctx, cfg.EnrichWorkers)
	}()
	go func() {
		defer wg.Done()
		persistStage.Run(ctx, cfg.PersistWorkers)
	}()

	log.Info("pipeline worker started",
		"enrich_workers", cfg.EnrichWorkers,
		"persist_workers", cfg.PersistWorkers,
		"consumer", consumerName)

	<-ctx.Done()
	log.Info("shutdown signal received, waiting for in-flight messages...")
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}

	log.Info("pipeline worker shut down gracefully")
}
