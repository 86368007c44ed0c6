package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port                 int    `env:"PORT" envDefault:"8080"`
	StoreBackend         string `env:"STORE_BACKEND" envDefault:"file"`
	DataDir              string `env:"DATA_DIR" envDefault:"data"`
	DatabaseURL          string `env:"DATABASE_URL"`
	RedisURL             string `env:"REDIS_URL,required"`
	SessionWindowMinutes int    `env:"SESSION_WINDOW_MINUTES" envDefault:"10"`
	OpenAIAPIKey         string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	RateLimitPerMin      int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SessionWindow is the freshness window for source-key identity
// resolution: events from the same source within this window land in
// the same session.
func (c *Config) SessionWindow() time.Duration {
	return time.Duration(c.SessionWindowMinutes) * time.Minute
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendFile:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the file store backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (expected %q or %q)", c.StoreBackend, BackendFile, BackendPostgres)
	}

	if c.SessionWindowMinutes <= 0 {
		return fmt.Errorf("SESSION_WINDOW_MINUTES must be positive")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
