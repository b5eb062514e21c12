package kv

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/retail-reco/internal/domain"
	"github.com/fairyhunter13/retail-reco/internal/observability"
)

// Options configures the live store connection.
type Options struct {
	Addr           string
	DB             int
	Username       string
	Password       string
	TLS            bool
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
	PoolSize       int
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 1500 * time.Millisecond
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 2 * time.Second
	}
	if o.PoolSize < 20 {
		o.PoolSize = 20
	}
	return o
}

// Redis is the live Store implementation.
type Redis struct {
	client  *redis.Client
	metrics *observability.ConnectionMetrics
}

// NewRedis creates a Store backed by a pooled client. The connection is
// lazy; use Ping or HealthCheck to verify reachability.
func NewRedis(opts Options) *Redis {
	opts = opts.withDefaults()
	ro := &redis.Options{
		Addr:         opts.Addr,
		DB:           opts.DB,
		Username:     opts.Username,
		Password:     opts.Password,
		DialTimeout:  opts.ConnectTimeout,
		ReadTimeout:  opts.OpTimeout,
		WriteTimeout: opts.OpTimeout,
		PoolSize:     opts.PoolSize,
	}
	if opts.TLS {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &Redis{
		client:  redis.NewClient(ro),
		metrics: observability.NewConnectionMetrics(observability.ConnectionTypeKV, opts.Addr),
	}
}

// Metrics exposes the connection tracker for stats surfaces.
func (r *Redis) Metrics() *observability.ConnectionMetrics { return r.metrics }

func (r *Redis) done(start time.Time) {
	r.metrics.RecordSuccess(time.Since(start))
}

func (r *Redis) fail(op string, err error, start time.Time) error {
	if errors.Is(err, context.DeadlineExceeded) {
		r.metrics.RecordTimeout(time.Since(start))
	} else {
		r.metrics.RecordFailure(err, time.Since(start))
	}
	return fmt.Errorf("kv %s: %w: %w", op, domain.ErrKVUnavailable, err)
}

// Get fetches a value. A missing key returns (nil, nil).
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	r.metrics.RecordRequest()
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.done(start)
		return nil, nil
	}
	if err != nil {
		return nil, r.fail("get", err, start)
	}
	r.done(start)
	return val, nil
}

// Set writes a value with a TTL. Non-positive TTLs take DefaultTTL so every
// key stays bounded.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	start := time.Now()
	r.metrics.RecordRequest()
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return r.fail("set", err, start)
	}
	r.done(start)
	return nil
}

// SetMulti pipelines SET-with-TTL for every item.
func (r *Redis) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	start := time.Now()
	r.metrics.RecordRequest()
	pipe := r.client.Pipeline()
	for k, v := range items {
		pipe.Set(ctx, k, v, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return r.fail("set_multi", err, start)
	}
	r.done(start)
	return nil
}

// Delete removes keys and returns the number actually deleted.
func (r *Redis) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	start := time.Now()
	r.metrics.RecordRequest()
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, r.fail("delete", err, start)
	}
	r.done(start)
	return n, nil
}

// Keys lists keys matching pattern.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	r.metrics.RecordRequest()
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, r.fail("keys", err, start)
	}
	r.done(start)
	return keys, nil
}

// MGet fetches values positionally; missing keys yield nil entries.
func (r *Redis) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	start := time.Now()
	r.metrics.RecordRequest()
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, r.fail("mget", err, start)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	r.done(start)
	return out, nil
}

// LPush prepends values to a list, newest landing at the head.
func (r *Redis) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	start := time.Now()
	r.metrics.RecordRequest()
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := r.client.LPush(ctx, key, args...).Err(); err != nil {
		return r.fail("lpush", err, start)
	}
	r.done(start)
	return nil
}

// LTrim keeps only the [start, stop] range of a list.
func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	t := time.Now()
	r.metrics.RecordRequest()
	if err := r.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return r.fail("ltrim", err, t)
	}
	r.done(t)
	return nil
}

// LRange reads the [start, stop] range of a list.
func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	t := time.Now()
	r.metrics.RecordRequest()
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, r.fail("lrange", err, t)
	}
	r.done(t)
	return vals, nil
}

// Expire sets a key's TTL.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	r.metrics.RecordRequest()
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return r.fail("expire", err, start)
	}
	r.done(start)
	return nil
}

// Ping probes the connection and returns the round-trip latency.
func (r *Redis) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	r.metrics.RecordRequest()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return 0, r.fail("ping", err, start)
	}
	latency := time.Since(start)
	r.metrics.RecordSuccess(latency)
	return latency, nil
}

// Info returns the server info as a flat key-value map.
func (r *Redis) Info(ctx context.Context) (map[string]string, error) {
	start := time.Now()
	r.metrics.RecordRequest()
	raw, err := r.client.Info(ctx).Result()
	if err != nil {
		return nil, r.fail("info", err, start)
	}
	r.done(start)

	info := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			info[k] = v
		}
	}
	return info, nil
}

// HealthCheck pings the store and reports status, latency and probe time.
func (r *Redis) HealthCheck(ctx context.Context) Health {
	latency, err := r.Ping(ctx)
	h := Health{LastTest: time.Now()}
	if err != nil {
		h.Status = "unhealthy"
		return h
	}
	h.Status = "healthy"
	h.Connected = true
	h.LatencyMS = float64(latency) / float64(time.Millisecond)
	return h
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("kv close: %w", err)
	}
	return nil
}
