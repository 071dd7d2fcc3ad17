package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/trancheready/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(25<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, 18, cfg.Scoring.LookbackMonths)
	assert.Equal(t, 6*time.Hour, cfg.Packs.TTL)
	assert.False(t, cfg.Worker.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("TR_PORT", "9090")
	t.Setenv("TR_LOG_LEVEL", "debug")
	t.Setenv("TR_LOG_FORMAT", "text")
	t.Setenv("TR_WORKERS", "8")
	t.Setenv("TR_LOOKBACK_MONTHS", "12")
	t.Setenv("TR_PACK_TTL", "30m")
	t.Setenv("TR_PUBLIC_URL", "https://tr.example.com")
	t.Setenv("TR_RATE_LIMIT", "120")
	t.Setenv("TR_ASYNC_WORKER", "true")
	t.Setenv("TR_TENANTS", "tenant-a, tenant-b,,")
	t.Setenv("TR_REDIS_ADDR", "redis:6379")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 8, cfg.Scoring.Workers)
	assert.Equal(t, 12, cfg.Scoring.LookbackMonths)
	assert.Equal(t, 30*time.Minute, cfg.Packs.TTL)
	assert.Equal(t, "https://tr.example.com", cfg.Packs.PublicURL)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
	assert.True(t, cfg.Worker.Enabled)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, cfg.Worker.TenantIDs)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
}

func TestLoad_ProTier(t *testing.T) {
	t.Setenv("TR_TIER", "pro")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Worker.Enabled)
}

func TestLoad_ProTierWorkerDisabled(t *testing.T) {
	t.Setenv("TR_TIER", "pro")
	t.Setenv("TR_ASYNC_WORKER", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Worker.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"unknown tier", "TR_TIER", "enterprise", "TR_TIER"},
		{"non-numeric port", "TR_PORT", "http", "TR_PORT must be an integer"},
		{"port out of range", "TR_PORT", "70000", "between 1 and 65535"},
		{"zero workers", "TR_WORKERS", "0", "TR_WORKERS"},
		{"bad duration", "TR_PACK_TTL", "six hours", "TR_PACK_TTL"},
		{"negative rate limit", "TR_RATE_LIMIT", "-1", "TR_RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRuleset(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		rs, err := LoadRuleset("")
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultRulesetID, rs.ID)
	})

	t.Run("overlay", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ruleset.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"id": "custom-2026.01",
			"highRiskJurisdictions": ["KP"],
			"banding": {"high": 40, "medium": 20}
		}`), 0o600))

		rs, err := LoadRuleset(path)
		require.NoError(t, err)
		assert.Equal(t, "custom-2026.01", rs.ID)
		assert.Equal(t, []string{"KP"}, rs.HighRiskJurisdictions)
		assert.Equal(t, domain.Banding{High: 40, Medium: 20}, rs.Banding)
		assert.Equal(t, "AUD", rs.Currency)
		assert.Len(t, rs.Profile, 7)
		assert.Equal(t, 12, rs.Structuring.Points)
	})

	t.Run("invalid banding", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ruleset.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"banding": {"high": 5, "medium": 10}}`), 0o600))

		_, err := LoadRuleset(path)
		assert.True(t, errors.Is(err, domain.ErrInvalidRuleset))
	})

	t.Run("bad expression", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ruleset.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"profile": [{"id": "pep", "text": "PEP", "expression": "pep_flag == 1", "points": 20}]
		}`), 0o600))

		_, err := LoadRuleset(path)
		assert.True(t, errors.Is(err, domain.ErrInvalidRuleset))
		assert.Contains(t, err.Error(), "rule pep")
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ruleset.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"id": 7`), 0o600))

		_, err := LoadRuleset(path)
		assert.True(t, errors.Is(err, domain.ErrInvalidRuleset))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRuleset(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}
