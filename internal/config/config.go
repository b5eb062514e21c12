// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
// Timeout knobs suffixed _S are fractional seconds; use the Duration helpers.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// KV store
	KVEnabled         bool    `env:"KV_ENABLED" envDefault:"false"`
	KVHost            string  `env:"KV_HOST" envDefault:"localhost"`
	KVPort            int     `env:"KV_PORT" envDefault:"6379"`
	KVDB              int     `env:"KV_DB" envDefault:"0"`
	KVUser            string  `env:"KV_USER"`
	KVPassword        string  `env:"KV_PASSWORD"`
	KVTLS             bool    `env:"KV_TLS" envDefault:"false"`
	KVConnectTimeoutS float64 `env:"KV_CONNECT_TIMEOUT_S" envDefault:"1.5"`
	KVOpTimeoutS      float64 `env:"KV_OP_TIMEOUT_S" envDefault:"2.0"`
	KVMaxConns        int     `env:"KV_MAX_CONNS" envDefault:"20"`

	// Recommendation composition
	ContentWeight   float64 `env:"CONTENT_WEIGHT" envDefault:"0.5"`
	ExcludeSeen     bool    `env:"EXCLUDE_SEEN" envDefault:"true"`
	DefaultCurrency string  `env:"DEFAULT_CURRENCY" envDefault:"COP"`
	RecsDefaultN    int     `env:"RECS_DEFAULT_N" envDefault:"5"`

	// Product cache
	CacheTTLS       float64  `env:"CACHE_TTL_S" envDefault:"3600"`
	CachePrefix     string   `env:"CACHE_PREFIX" envDefault:"product:"`
	CacheBGTasks    bool     `env:"CACHE_BG_TASKS" envDefault:"true"`
	MinProductSynth bool     `env:"MIN_PRODUCT_SYNTH" envDefault:"false"`
	WarmupMarkets   []string `env:"WARMUP_MARKETS" envSeparator:","`
	WarmupBudget    int      `env:"WARMUP_BUDGET" envDefault:"50"`
	StaleAfterS     float64  `env:"STALE_AFTER_S" envDefault:"86400"`

	// Event store
	EventCacheTTLS      float64 `env:"EVENT_CACHE_TTL_S" envDefault:"300"`
	EventBufferSize     int     `env:"EVENT_BUFFER_SIZE" envDefault:"200"`
	EventFlushIntervalS float64 `env:"EVENT_FLUSH_INTERVAL_S" envDefault:"30"`
	EventFallbackDir    string  `env:"EVENT_FALLBACK_DIR"`
	EventTTLDays        int     `env:"EVENT_TTL_DAYS" envDefault:"30"`
	ProfileTTLS         float64 `env:"PROFILE_TTL_S" envDefault:"86400"`

	// Remote collaborators
	CollabURL         string  `env:"COLLAB_URL"`
	CollabTimeoutS    float64 `env:"COLLAB_TIMEOUT_S" envDefault:"10"`
	CatalogURL        string  `env:"CATALOG_URL"`
	CatalogAPIKey     string  `env:"CATALOG_API_KEY"`
	CatalogDBURL      string  `env:"CATALOG_DB_URL"`
	CatalogFeedPath   string  `env:"CATALOG_FEED_PATH"`
	ConvAIURL         string  `env:"CONVAI_URL"`
	ConvAITimeoutS    float64 `env:"CONVAI_TIMEOUT_S" envDefault:"10"`
	ConvAITokenBudget int     `env:"CONVAI_TOKEN_BUDGET" envDefault:"1024"`
	ConvAIModel       string  `env:"CONVAI_MODEL" envDefault:"gpt-4"`

	// Event stream mirror (optional; enabled when brokers are set)
	StreamBrokers []string `env:"EVENT_STREAM_BROKERS" envSeparator:","`
	StreamTopic   string   `env:"EVENT_STREAM_TOPIC" envDefault:"user-events"`

	// Intent vocabulary and emergency placeholder products
	VocabPath string `env:"VOCAB_PATH" envDefault:"configs/vocab.yaml"`

	// HTTP surface
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Ops endpoints (cache invalidation, warm-up, recovery triggers)
	OpsUsername     string `env:"OPS_USERNAME"`
	OpsPasswordHash string `env:"OPS_PASSWORD_HASH"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"retail-reco"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if cfg.ContentWeight < 0 || cfg.ContentWeight > 1 {
		return Config{}, fmt.Errorf("op=config.Load: CONTENT_WEIGHT must be in [0,1], got %v", cfg.ContentWeight)
	}
	if cfg.EventBufferSize <= 0 {
		return Config{}, fmt.Errorf("op=config.Load: EVENT_BUFFER_SIZE must be positive, got %d", cfg.EventBufferSize)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// OpsEnabled returns true if the operational endpoints should be mounted.
func (c Config) OpsEnabled() bool {
	return c.OpsUsername != "" && c.OpsPasswordHash != ""
}

// StreamEnabled returns true if the event stream mirror should be wired.
func (c Config) StreamEnabled() bool { return len(c.StreamBrokers) > 0 }

func secs(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

// KVConnectTimeout is the socket connect budget for the live KV store.
func (c Config) KVConnectTimeout() time.Duration { return secs(c.KVConnectTimeoutS) }

// KVOpTimeout is the per-operation budget for the live KV store.
func (c Config) KVOpTimeout() time.Duration { return secs(c.KVOpTimeoutS) }

// CacheTTL is the write-back TTL for product records.
func (c Config) CacheTTL() time.Duration { return secs(c.CacheTTLS) }

// StaleAfter is the window after which unaccessed products are invalidated.
func (c Config) StaleAfter() time.Duration { return secs(c.StaleAfterS) }

// EventCacheTTL is the in-memory profile cache TTL.
func (c Config) EventCacheTTL() time.Duration { return secs(c.EventCacheTTLS) }

// EventFlushInterval is the periodic flush cadence of the event store.
func (c Config) EventFlushInterval() time.Duration { return secs(c.EventFlushIntervalS) }

// EventTTL is the KV retention of persisted events and per-user indexes.
func (c Config) EventTTL() time.Duration { return time.Duration(c.EventTTLDays) * 24 * time.Hour }

// ProfileTTL is the KV retention of materialized profiles.
func (c Config) ProfileTTL() time.Duration { return secs(c.ProfileTTLS) }

// CollabTimeout bounds calls to the collaborative engine.
func (c Config) CollabTimeout() time.Duration { return secs(c.CollabTimeoutS) }

// ConvAITimeout bounds calls to the conversational response generator.
func (c Config) ConvAITimeout() time.Duration { return secs(c.ConvAITimeoutS) }

// KVAddr is the host:port of the live KV store.
func (c Config) KVAddr() string { return fmt.Sprintf("%s:%d", c.KVHost, c.KVPort) }
