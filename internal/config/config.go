// Package config loads TrancheReady configuration from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/trancheready/internal/domain"
	"github.com/opensource-finance/trancheready/internal/rules"
)

// Load reads configuration from environment variables over the tier defaults.
// It loads a .env file if present (for local development).
func Load() (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if tier := os.Getenv("TR_TIER"); tier != "" {
		switch domain.Tier(tier) {
		case domain.TierCommunity:
		case domain.TierPro:
			cfg = domain.ProConfig()
		default:
			return nil, fmt.Errorf("TR_TIER must be %q or %q, got %q", domain.TierCommunity, domain.TierPro, tier)
		}
	}

	var err error
	cfg.Server.Host = getEnv("TR_HOST", cfg.Server.Host)
	if cfg.Server.Port, err = getEnvInt("TR_PORT", cfg.Server.Port); err != nil {
		return nil, err
	}
	if cfg.Server.MaxBodyBytes, err = getEnvInt64("TR_MAX_BODY_BYTES", cfg.Server.MaxBodyBytes); err != nil {
		return nil, err
	}

	cfg.Logging.Level = getEnv("TR_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("TR_LOG_FORMAT", cfg.Logging.Format)

	if addr := os.Getenv("TR_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
		cfg.Cache.Type = "redis"
	}
	cfg.Cache.RedisPassword = getEnv("TR_REDIS_PASSWORD", cfg.Cache.RedisPassword)

	if url := os.Getenv("TR_NATS_URL"); url != "" {
		cfg.EventBus.NATSUrl = url
		cfg.EventBus.Type = "nats"
	}
	cfg.EventBus.NATSToken = getEnv("TR_NATS_TOKEN", cfg.EventBus.NATSToken)

	if cfg.Scoring.Workers, err = getEnvInt("TR_WORKERS", cfg.Scoring.Workers); err != nil {
		return nil, err
	}
	if cfg.Scoring.LookbackMonths, err = getEnvInt("TR_LOOKBACK_MONTHS", cfg.Scoring.LookbackMonths); err != nil {
		return nil, err
	}
	cfg.Scoring.RulesetPath = getEnv("TR_RULESET_PATH", cfg.Scoring.RulesetPath)

	if cfg.Packs.TTL, err = getEnvDuration("TR_PACK_TTL", cfg.Packs.TTL); err != nil {
		return nil, err
	}
	cfg.Packs.PublicURL = getEnv("TR_PUBLIC_URL", cfg.Packs.PublicURL)

	if cfg.RateLimit.RequestsPerMinute, err = getEnvInt("TR_RATE_LIMIT", cfg.RateLimit.RequestsPerMinute); err != nil {
		return nil, err
	}

	if v := os.Getenv("TR_ASYNC_WORKER"); v != "" {
		cfg.Worker.Enabled = v == "true"
	}
	if tenants := os.Getenv("TR_TENANTS"); tenants != "" {
		cfg.Worker.TenantIDs = splitList(tenants)
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Endpoint = endpoint
		cfg.Tracing.Enabled = true
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that the server cannot run without.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("TR_PORT must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 1 {
		return fmt.Errorf("TR_MAX_BODY_BYTES must be positive")
	}
	if cfg.Scoring.Workers < 1 {
		return fmt.Errorf("TR_WORKERS must be at least 1, got %d", cfg.Scoring.Workers)
	}
	if cfg.Scoring.LookbackMonths < 1 {
		return fmt.Errorf("TR_LOOKBACK_MONTHS must be at least 1, got %d", cfg.Scoring.LookbackMonths)
	}
	if cfg.Packs.TTL <= 0 {
		return fmt.Errorf("TR_PACK_TTL must be positive")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("TR_RATE_LIMIT must not be negative")
	}
	return nil
}

// LoadRuleset returns the default ruleset, overlaid with the JSON file at path
// when one is given. Keys absent from the file keep their defaults.
func LoadRuleset(path string) (*domain.Ruleset, error) {
	rs := domain.DefaultRuleset()
	if path == "" {
		return rs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	if err := json.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidRuleset, path, err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	for _, p := range rs.Profile {
		if err := rules.ValidateExpression(p.Expression); err != nil {
			return nil, fmt.Errorf("%w: %s: rule %s: %w", domain.ErrInvalidRuleset, path, p.ID, err)
		}
	}
	return rs, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return i, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return i, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 6h: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
