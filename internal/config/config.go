// Package config loads engine configuration from the environment, with an
// optional .env file for development and a YAML registry for flashloan
// providers.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/solvernet-labs/intent_layer/pkg/logger"
)

// Config is the full engine configuration.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Auction   AuctionConfig
	Treasury  TreasuryConfig
	Logging   logger.LoggingConfig
	DevVerify bool `env:"INTENT_DEV_VERIFIER,default=true"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	ListenAddr   string        `env:"INTENT_HTTP_ADDR,default=:8080"`
	ReadTimeout  time.Duration `env:"INTENT_HTTP_READ_TIMEOUT,default=10s"`
	WriteTimeout time.Duration `env:"INTENT_HTTP_WRITE_TIMEOUT,default=30s"`
	RateLimit    float64       `env:"INTENT_HTTP_RATE_LIMIT,default=50"`
	RateBurst    int           `env:"INTENT_HTTP_RATE_BURST,default=100"`
}

// DatabaseConfig configures persistence. An empty DSN selects the in-memory
// store.
type DatabaseConfig struct {
	DSN          string        `env:"INTENT_DATABASE_DSN,default="`
	MaxOpenConns int           `env:"INTENT_DATABASE_MAX_OPEN,default=10"`
	MaxIdleConns int           `env:"INTENT_DATABASE_MAX_IDLE,default=5"`
	ConnLifetime time.Duration `env:"INTENT_DATABASE_CONN_LIFETIME,default=30m"`
}

// AuctionConfig configures the phase sweeper.
type AuctionConfig struct {
	SweepSpec    string        `env:"INTENT_AUCTION_SWEEP_SPEC,default=@every 5s"`
	BidWindow    time.Duration `env:"INTENT_AUCTION_BID_WINDOW,default=30s"`
	RevealWindow time.Duration `env:"INTENT_AUCTION_REVEAL_WINDOW,default=30s"`
}

// TreasuryConfig configures governance and the provider registry file.
type TreasuryConfig struct {
	Governors    []string `env:"INTENT_TREASURY_GOVERNORS,default=governor"`
	ProviderFile string   `env:"INTENT_TREASURY_PROVIDERS,default="`
}

// ProviderSpec is one entry in the flashloan provider registry file.
type ProviderSpec struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Endpoint string `yaml:"endpoint"`
}

// ProviderRegistry is the YAML shape of the provider registry file.
type ProviderRegistry struct {
	Providers []ProviderSpec `yaml:"providers"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged first when present; a missing file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config from environment: %w", err)
	}
	cfg.Logging = logger.LoggingConfig{
		Level:  envOr("INTENT_LOG_LEVEL", "info"),
		Format: envOr("INTENT_LOG_FORMAT", "json"),
		Output: envOr("INTENT_LOG_OUTPUT", "stdout"),
	}
	return &cfg, nil
}

// LoadProviderRegistry parses the flashloan provider registry file.
func LoadProviderRegistry(path string) (*ProviderRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider registry: %w", err)
	}

	var reg ProviderRegistry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse provider registry: %w", err)
	}
	for i, spec := range reg.Providers {
		if spec.Name == "" {
			return nil, fmt.Errorf("provider %d: name is required", i)
		}
		if spec.Kind == "" {
			return nil, fmt.Errorf("provider %s: kind is required", spec.Name)
		}
	}
	return &reg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
