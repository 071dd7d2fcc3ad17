package domain

import "time"

// Config holds the complete TrancheReady configuration.
type Config struct {
	Server ServerConfig `json:"server"`

	// Tier selects the infrastructure backends.
	Tier Tier `json:"tier"`

	Cache    CacheConfig    `json:"cache"`
	EventBus EventBusConfig `json:"eventBus"`

	Scoring   ScoringConfig   `json:"scoring"`
	Packs     PackConfig      `json:"packs"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Worker    WorkerConfig    `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// MaxBodyBytes caps request payloads.
	MaxBodyBytes int64 `json:"maxBodyBytes"`
}

// ScoringConfig controls the batch processor.
type ScoringConfig struct {
	// Workers bounds per-client parallelism; 1 scores sequentially.
	Workers int `json:"workers"`

	// LookbackMonths is used when a batch arrives without a lookback.
	LookbackMonths int `json:"lookbackMonths"`

	// RulesetPath optionally points at a JSON ruleset overriding the default.
	RulesetPath string `json:"rulesetPath,omitempty"`
}

// PackConfig controls evidence pack retention and links.
type PackConfig struct {
	TTL       time.Duration `json:"ttl"`
	PublicURL string        `json:"publicUrl"`
}

// RateLimitConfig is a per-tenant fixed window limit. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
}

// WorkerConfig enables asynchronous batch scoring.
type WorkerConfig struct {
	Enabled bool `json:"enabled"`

	// TenantIDs to subscribe for; empty subscribes to every tenant.
	TenantIDs []string `json:"tenantIds"`

	// ResultTTL is how long async results stay retrievable.
	ResultTTL time.Duration `json:"resultTTL"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"` // OTLP gRPC host:port
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs fully in-process: LRU cache and channel bus.
	TierCommunity Tier = "community"

	// TierPro uses Redis and NATS so API and workers can scale separately.
	TierPro Tier = "pro"
)

// DefaultConfig returns the in-process Community configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxBodyBytes: 25 << 20,
		},
		Tier: TierCommunity,
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: ScoringConfig{
			Workers:        4,
			LookbackMonths: 18,
		},
		Packs: PackConfig{
			TTL:       6 * time.Hour,
			PublicURL: "http://localhost:8080",
		},
		Worker: WorkerConfig{
			ResultTTL: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "trancheready",
		},
	}
}

// ProConfig returns a configuration backed by Redis and NATS with the worker on.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 600
	cfg.Tracing.Enabled = true
	return cfg
}
