package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Redis (cache backend + rate limiter)
	RedisAddr string

	// Providers
	ProvidersFile string // YAML registry, default: providers.yaml

	// Dispatch
	SelectionStrategy string        // round_robin | priority | cost_optimized
	MaxRetries        int           // per-provider attempts, default: 3
	RequestTimeout    time.Duration // per adapter invocation, default: 30s

	// Cache
	CacheEnabled bool   // default: true
	CacheBackend string // "memory" or "redis", default: memory

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitRPM int64 // requests per minute per client, default: 120
}

// ProviderConfig is one entry of the YAML provider registry. API keys are
// referenced by environment variable name, never stored in the file.
type ProviderConfig struct {
	Name       string  `yaml:"name"`
	Capability string  `yaml:"capability"`
	DailyLimit int     `yaml:"daily_limit"`
	Unlimited  bool    `yaml:"unlimited"`
	UnitCost   float64 `yaml:"unit_cost"`
	Priority   int     `yaml:"priority"`
	Endpoint   string  `yaml:"endpoint"`
	APIKeyEnv  string  `yaml:"api_key_env"`
}

// APIKey resolves the provider's API key from the environment.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

type providersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		ProvidersFile:        getEnv("PROVIDERS_FILE", "providers.yaml"),
		SelectionStrategy:    getEnv("SELECTION_STRATEGY", "round_robin"),
		CacheBackend:         getEnv("CACHE_BACKEND", "memory"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	retries, err := strconv.Atoi(getEnv("MAX_RETRIES", "3"))
	if err != nil || retries < 1 {
		return nil, fmt.Errorf("invalid MAX_RETRIES: %q", getEnv("MAX_RETRIES", "3"))
	}
	cfg.MaxRetries = retries

	timeout, err := time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	cfg.RequestTimeout = timeout

	enabled, err := strconv.ParseBool(getEnv("CACHE_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_ENABLED: %w", err)
	}
	cfg.CacheEnabled = enabled

	rpm, err := strconv.ParseInt(getEnv("DEFAULT_RATE_LIMIT_RPM", "120"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_RPM: %w", err)
	}
	cfg.DefaultRateLimitRPM = rpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.CacheBackend != "memory" && cfg.CacheBackend != "redis" {
		return nil, fmt.Errorf("invalid CACHE_BACKEND: %q", cfg.CacheBackend)
	}

	return cfg, nil
}

// LoadProviders parses the YAML provider registry.
func (c *Config) LoadProviders() ([]ProviderConfig, error) {
	data, err := os.ReadFile(c.ProvidersFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var f providersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}
	if len(f.Providers) == 0 {
		return nil, fmt.Errorf("providers file %s declares no providers", c.ProvidersFile)
	}

	return f.Providers, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
