package fincli

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes the findata environment variables.
const EnvPrefix = "FINDATA"

// Config is read from FINDATA_* environment variables. The Alpha Vantage
// key is also read from the unprefixed ALPHA_VANTAGE_API_KEY.
type Config struct {
	DBPath          string        `envconfig:"DB_PATH" default:"findata.db"`
	RedisURL        string        `envconfig:"REDIS_URL"`
	CacheTTL        time.Duration `envconfig:"CACHE_TTL" default:"15m"`
	Sources         []string      `envconfig:"SOURCES" default:"yahoo,alphavantage"`
	YahooURL        string        `envconfig:"YAHOO_URL"`
	AlphaVantageURL string        `envconfig:"ALPHA_VANTAGE_URL"`
	AlphaVantageKey string        `envconfig:"ALPHA_VANTAGE_API_KEY"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"warn"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}
