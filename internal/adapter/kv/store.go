// Package kv provides the key-value store adapter: a typed wrapper over a
// RESP-compatible store, plus an embedded in-memory twin used as the degraded
// -mode fallback and as the test double. Callers treat values as opaque bytes;
// a missing key is (nil, nil), never an error.
package kv

import (
	"context"
	"time"
)

// DefaultTTL bounds sets whose callers do not provide a TTL.
const DefaultTTL = 24 * time.Hour

// Health is the probe result surfaced by HealthCheck.
type Health struct {
	Status    string    `json:"status"`
	Connected bool      `json:"connected"`
	LatencyMS float64   `json:"latency_ms"`
	LastTest  time.Time `json:"last_test"`
}

// Store is the adapter contract. Every failure wraps domain.ErrKVUnavailable;
// connection-specific errors never reach callers.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetMulti pipelines SET-with-TTL for every item.
	SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	// MGet returns values positionally; missing keys yield nil entries.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Ping(ctx context.Context) (time.Duration, error)
	Info(ctx context.Context) (map[string]string, error)
	HealthCheck(ctx context.Context) Health
	Close() error
}
