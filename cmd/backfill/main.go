package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

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
		log.Error("JIRA_URL is required for the backfill driver")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	streamTransport := transport.NewTransport(redisClient, log, cfg.StreamPrefix)
	cursorStore := transport.NewCursorStore(redisClient, cfg.StreamPrefix)
	jiraClient := jira.NewClient(cfg.JiraURL, cfg.JiraUsername, cfg.JiraToken, log)

	driver := usecase.NewBackfill(
		jiraClient,
		streamTransport,
		cursorStore,
		log,
		metrics.New(prometheus.DefaultRegisterer),
		cfg.BackfillPageSize,
		cfg.BackfillRPS,
		cfg.BackfillCursor,
	)

	report, err := driver.Run(ctx)

	// Print the report even on failure: it shows where the next run resumes.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encodeErr := enc.Encode(report); encodeErr != nil {
		log.Error("failed to encode backfill report", "error", encodeErr)
	}

	if err != nil {
		log.Error("backfill did not complete", "error", err)
		os.Exit(1)
	}
}
