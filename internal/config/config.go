package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"16"`
	DatabaseMinConns int32  `envconfig:"DATABASE_MIN_CONNS" default:"2"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	SynthesisModel string `envconfig:"SYNTHESIS_MODEL" default:"gpt-4o-mini"`

	// Orchestrator tunables. The partition timeout must stay shorter than
	// the overall query timeout.
	QueryTimeout       time.Duration `envconfig:"QUERY_TIMEOUT" default:"30s"`
	PartitionTimeout   time.Duration `envconfig:"PARTITION_TIMEOUT" default:"5s"`
	FanoutConcurrency  int           `envconfig:"FANOUT_CONCURRENCY" default:"16"`
	PerPartitionLimit  int           `envconfig:"PER_PARTITION_LIMIT" default:"20"`
	DefaultResultLimit int           `envconfig:"DEFAULT_RESULT_LIMIT" default:"10"`
	ContextMaxTurns    int           `envconfig:"CONTEXT_MAX_TURNS" default:"10"`

	// Periodic partition health probing.
	HealthCheckInterval time.Duration `envconfig:"HEALTH_CHECK_INTERVAL" default:"1m"`

	SentryDSN              string  `envconfig:"SENTRY_DSN"`
	SentryEnvironment      string  `envconfig:"SENTRY_ENVIRONMENT" default:"development"`
	SentryTracesSampleRate float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE" default:"1.0"`

	// Bootstrap: register the tenant-wide partition on startup
	InitTenantID   string `envconfig:"INIT_TENANT_ID"`
	InitTenantName string `envconfig:"INIT_TENANT_NAME"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("QUERYMESH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if cfg.PartitionTimeout >= cfg.QueryTimeout {
		return nil, fmt.Errorf("partition timeout (%s) must be shorter than query timeout (%s)",
			cfg.PartitionTimeout, cfg.QueryTimeout)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
