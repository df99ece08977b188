package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all pipeline configuration. Each binary hands the parts it
// needs to its components explicitly at construction; there are no
// process-wide mutable singletons.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RedisAddr   string `env:"REDIS_ADDR,required"`
	PostgresURL string `env:"POSTGRES_URL"`

	// Stream transport.
	StreamPrefix      string        `env:"STREAM_PREFIX" envDefault:"issue_events"`
	ReceiveBatch      int           `env:"RECEIVE_BATCH" envDefault:"10"`
	LeaseTimeout      time.Duration `env:"LEASE_TIMEOUT" envDefault:"30s"`
	RetryPumpInterval time.Duration `env:"RETRY_PUMP_INTERVAL" envDefault:"1s"`
	ReclaimInterval   time.Duration `env:"RECLAIM_INTERVAL" envDefault:"10s"`

	// Stage workers and retry budget.
	EnrichWorkers  int `env:"ENRICH_WORKERS" envDefault:"4"`
	PersistWorkers int `env:"PERSIST_WORKERS" envDefault:"4"`
	MaxAttempts    int `env:"MAX_ATTEMPTS" envDefault:"5"`

	// Enrichment backends.
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey   string `env:"ANTHROPIC_API_KEY"`
	GeneratorProvider string `env:"GENERATOR_PROVIDER" envDefault:"openai"` // openai | anthropic
	EmbeddingModel    string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDim      int    `env:"EMBEDDING_DIM" envDefault:"1536"`
	SummaryModel      string `env:"SUMMARY_MODEL"`
	MaxInputChars     int    `env:"MAX_INPUT_CHARS" envDefault:"8000"`

	// Vector store.
	StoreTable string `env:"STORE_TABLE" envDefault:"jira_data"`

	// Source issue tracker.
	JiraURL      string `env:"JIRA_URL"`
	JiraUsername string `env:"JIRA_USERNAME"`
	JiraToken    string `env:"JIRA_TOKEN"`

	// Backfill driver.
	BackfillPageSize int     `env:"BACKFILL_PAGE_SIZE" envDefault:"50"`
	BackfillRPS      float64 `env:"BACKFILL_RPS" envDefault:"5"`
	BackfillCursor   string  `env:"BACKFILL_CURSOR" envDefault:"backfill:jira"`

	// HTTP surfaces.
	WebhookAddr   string `env:"WEBHOOK_ADDR" envDefault:":8080"`
	AdminAddr     string `env:"ADMIN_ADDR" envDefault:":9091"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
