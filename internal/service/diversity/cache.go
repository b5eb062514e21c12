package diversity

import (
	"context"
	"crypto/md5" // #nosec G501 -- key fingerprinting, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
	"github.com/fairyhunter13/retail-reco/internal/adapter/observability"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	obsctx "github.com/fairyhunter13/retail-reco/internal/observability"
)

const (
	keyPrefix    = "diversity_cache_v2:"
	noExclusions = "no_exclusions"

	ttlInitialTurn    = 300 * time.Second
	ttlHighEngagement = 30 * time.Second
	ttlDefault        = 60 * time.Second
)

// Envelope is the stored cache entry. Response is kept as raw JSON so a hit
// round-trips the cached bytes unchanged.
type Envelope struct {
	UserID          string          `json:"user_id"`
	Query           string          `json:"query"`
	Response        json.RawMessage `json:"response"`
	ContextSnapshot Snapshot        `json:"context_snapshot"`
	CachedAt        time.Time       `json:"cached_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	TTLSeconds      int             `json:"ttl"`
}

// Snapshot records the conversational context an entry was cached under.
type Snapshot struct {
	TurnNumber         int    `json:"turn_number"`
	MarketID           string `json:"market_id,omitempty"`
	ShownProductsCount int    `json:"shown_products_count"`
}

// Cache is the diversity-aware response cache.
type Cache struct {
	store      kv.Store
	classifier *Classifier

	hits          atomic.Int64
	misses        atomic.Int64
	hitLatencyNS  atomic.Int64
	missLatencyNS atomic.Int64
	preserved     atomic.Int64
}

// New builds a cache over store using classifier for key derivation.
func New(store kv.Store, classifier *Classifier) *Cache {
	if classifier == nil {
		classifier = NewClassifier(nil, nil)
	}
	return &Cache{store: store, classifier: classifier}
}

// ExclusionHash fingerprints the shown-products set: MD5 over the sorted
// unique ids joined by ",", first 12 hex chars. The empty set has the literal
// tag so it is visible in keys.
func ExclusionHash(shown []string) string {
	if len(shown) == 0 {
		return noExclusions
	}
	uniq := make(map[string]struct{}, len(shown))
	for _, id := range shown {
		uniq[id] = struct{}{}
	}
	ids := make([]string, 0, len(uniq))
	for id := range uniq {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sum := md5.Sum([]byte(strings.Join(ids, ","))) // #nosec G401
	return hex.EncodeToString(sum[:])[:12]
}

// keyParts is marshalled in declaration order, which makes the composite JSON
// stable for equal inputs.
type keyParts struct {
	User     string `json:"user"`
	Intent   string `json:"intent"`
	Turn     int    `json:"turn"`
	Excluded string `json:"excluded"`
	Market   string `json:"market"`
}

// Key derives the cache key for (user, query, qctx) and returns the key and
// the extracted intent.
func (c *Cache) Key(userID, query string, qctx domain.QueryContext) (string, string) {
	intent := c.classifier.Intent(query)
	parts, _ := json.Marshal(keyParts{
		User:     userID,
		Intent:   intent,
		Turn:     qctx.TurnNumber,
		Excluded: ExclusionHash(qctx.ShownProducts),
		Market:   qctx.MarketID,
	})
	sum := md5.Sum(parts) // #nosec G401
	return keyPrefix + userID + ":" + hex.EncodeToString(sum[:])[:16], intent
}

// TTLFor computes the dynamic TTL: first turns cache longest, highly engaged
// conversations move fast and cache shortest.
func TTLFor(qctx domain.QueryContext) time.Duration {
	switch {
	case qctx.TurnNumber == 1:
		return ttlInitialTurn
	case qctx.EngagementScore > 0.8:
		return ttlHighEngagement
	default:
		return ttlDefault
	}
}

// GetCached returns the cached response for (user, query, qctx), or nil on a
// miss. Hits are tagged with _cache_hit, the cache key and the lookup latency.
// Exactly one hit or miss metric is recorded per call.
func (c *Cache) GetCached(ctx context.Context, userID, query string, qctx domain.QueryContext) (*domain.RecommendationResponse, error) {
	start := time.Now()
	key, _ := c.Key(userID, query, qctx)

	raw, err := c.store.Get(ctx, key)
	elapsed := time.Since(start)
	if err != nil || raw == nil {
		c.misses.Add(1)
		c.missLatencyNS.Add(int64(elapsed))
		observability.CacheMiss(elapsed)
		if err != nil {
			obsctx.LoggerFromContext(ctx).Debug("diversity cache unavailable",
				slog.String("key", key), slog.Any("error", err))
			return nil, fmt.Errorf("diversity get: %w", err)
		}
		return nil, nil
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.misses.Add(1)
		c.missLatencyNS.Add(int64(elapsed))
		observability.CacheMiss(elapsed)
		// Corrupt entries are dropped so they cannot shadow fresh responses.
		_, _ = c.store.Delete(ctx, key)
		return nil, nil
	}
	var resp domain.RecommendationResponse
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		c.misses.Add(1)
		c.missLatencyNS.Add(int64(elapsed))
		observability.CacheMiss(elapsed)
		_, _ = c.store.Delete(ctx, key)
		return nil, nil
	}

	c.hits.Add(1)
	c.hitLatencyNS.Add(int64(elapsed))
	observability.CacheHit(elapsed)
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata["_cache_hit"] = true
	resp.Metadata["cache_key"] = key
	resp.Metadata["cache_latency_ms"] = float64(elapsed) / float64(time.Millisecond)
	return &resp, nil
}

// Envelope fetches and parses the stored entry without touching metrics.
// Intended for tests and debugging surfaces.
func (c *Cache) Envelope(ctx context.Context, userID, query string, qctx domain.QueryContext) (*Envelope, error) {
	key, _ := c.Key(userID, query, qctx)
	raw, err := c.store.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("diversity envelope: %w", err)
	}
	return &env, nil
}

// Cache stores response under the derived key. A zero ttl takes the dynamic
// schedule. Returns the key the entry was stored under.
func (c *Cache) Cache(ctx context.Context, userID, query string, qctx domain.QueryContext, response *domain.RecommendationResponse, ttl time.Duration) (string, error) {
	key, _ := c.Key(userID, query, qctx)
	if ttl <= 0 {
		ttl = TTLFor(qctx)
	}
	rawResp, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("diversity cache marshal: %w", err)
	}
	now := time.Now().UTC()
	env := Envelope{
		UserID:   userID,
		Query:    query,
		Response: rawResp,
		ContextSnapshot: Snapshot{
			TurnNumber:         qctx.TurnNumber,
			MarketID:           qctx.MarketID,
			ShownProductsCount: len(qctx.ShownProducts),
		},
		CachedAt:   now,
		ExpiresAt:  now.Add(ttl),
		TTLSeconds: int(ttl / time.Second),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("diversity cache marshal: %w", err)
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		return "", fmt.Errorf("diversity cache set: %w", err)
	}
	if len(qctx.ShownProducts) > 0 {
		c.preserved.Add(1)
	}
	return key, nil
}

// InvalidateUser removes every cached entry for userID and returns the count.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) (int64, error) {
	keys, err := c.store.Keys(ctx, keyPrefix+userID+":*")
	if err != nil {
		return 0, fmt.Errorf("diversity invalidate: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.store.Delete(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("diversity invalidate: %w", err)
	}
	return n, nil
}

// Metrics exposes hit/miss counters and average latencies.
func (c *Cache) Metrics() map[string]any {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	avg := func(sumNS, n int64) float64 {
		if n == 0 {
			return 0
		}
		return float64(sumNS) / float64(n) / float64(time.Millisecond)
	}
	return map[string]any{
		"total":                           total,
		"hits":                            hits,
		"misses":                          misses,
		"hit_rate":                        hitRate,
		"avg_hit_ms":                      avg(c.hitLatencyNS.Load(), hits),
		"avg_miss_ms":                     avg(c.missLatencyNS.Load(), misses),
		"diversification_preserved_count": c.preserved.Load(),
	}
}
