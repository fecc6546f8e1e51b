package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                int    `env:"PORT" envDefault:"8080"`
	DatabaseURL         string `env:"DATABASE_URL,required"`
	RedisURL            string `env:"REDIS_URL,required"`
	AuthStateDir        string `env:"AUTH_STATE_DIR" envDefault:"./sessions"`
	ProtocolDriver      string `env:"PROTOCOL_DRIVER" envDefault:"dev"`
	MaxReconnectRetries int    `env:"MAX_RECONNECT_RETRIES" envDefault:"3"`
	PairingStartsPerMin int    `env:"PAIRING_STARTS_PER_MIN" envDefault:"10"`
	SkipStartupRestore  bool   `env:"SKIP_STARTUP_RESTORE" envDefault:"false"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.AuthStateDir == "" {
		return fmt.Errorf("AUTH_STATE_DIR must not be empty")
	}
	if c.MaxReconnectRetries < 0 {
		return fmt.Errorf("MAX_RECONNECT_RETRIES must not be negative")
	}

	if isProduction {
		if c.ProtocolDriver == "dev" {
			log.Warn().Msg("PROTOCOL_DRIVER is 'dev' in production: sessions will use the in-memory loopback client")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
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
