// Package products implements the multi-source read-through product cache.
//
// Lookup tiers: KV -> local catalog -> remote catalog -> optional minimal
// synthesis. Hits from tier 2 onward are written back to KV so the next
// lookup is a tier-1 hit. Access telemetry feeds the warm-up planner and the
// adaptive manager.
package products

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
	"github.com/fairyhunter13/retail-reco/internal/adapter/observability"
	obsctx "github.com/fairyhunter13/retail-reco/internal/observability"
	"github.com/fairyhunter13/retail-reco/internal/domain"
)

// LocalCatalog is the content engine's product table viewed as a lookup tier.
type LocalCatalog interface {
	Product(id string) *domain.Product
	All() []domain.Product
	Loaded() bool
}

// Options configures the cache.
type Options struct {
	Prefix          string
	TTL             time.Duration
	MinimalTTL      time.Duration
	SynthMinimal    bool
	DefaultCurrency string
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "product:"
	}
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if o.MinimalTTL <= 0 {
		o.MinimalTTL = 5 * time.Minute
	}
	if o.DefaultCurrency == "" {
		o.DefaultCurrency = "COP"
	}
	return o
}

// Cache is the multi-source product cache. Local and remote tiers are
// optional; a nil tier is skipped.
type Cache struct {
	store  kv.Store
	local  LocalCatalog
	remote domain.ProductSource
	opts   Options

	kvHits        atomic.Int64
	localHits     atomic.Int64
	remoteHits    atomic.Int64
	minimalHits   atomic.Int64
	totalFailures atomic.Int64

	// Lock-free monotone counters. Last-write-wins races are acceptable.
	freq       sync.Map // product id -> *atomic.Int64
	lastAccess sync.Map // product id -> *atomic.Int64 (unix seconds)
	marketPop  sync.Map // market id  -> *sync.Map(product id -> *atomic.Int64)
	catDemand  sync.Map // category   -> *atomic.Int64
}

// New creates a product cache over the given tiers.
func New(store kv.Store, local LocalCatalog, remote domain.ProductSource, opts Options) *Cache {
	return &Cache{store: store, local: local, remote: remote, opts: opts.withDefaults()}
}

func (c *Cache) key(id string) string { return c.opts.Prefix + id }

// Get resolves a product through the tier ladder. marketID scopes the
// popularity counter for this call and may be empty. A miss on every tier
// returns (nil, nil); errors are swallowed into the failure counter because
// the caller substitutes a placeholder either way.
func (c *Cache) Get(ctx context.Context, id, marketID string) (*domain.Product, error) {
	if id == "" {
		return nil, nil
	}
	c.recordAccess(id, marketID)

	// Tier 1: KV
	if raw, err := c.store.Get(ctx, c.key(id)); err == nil && raw != nil {
		var p domain.Product
		if uerr := json.Unmarshal(raw, &p); uerr == nil {
			c.kvHits.Add(1)
			observability.ProductTierHit("kv")
			c.recordCategory(p.Category)
			return &p, nil
		}
		// Corrupt entry: drop it and fall through to the next tier.
		_, _ = c.store.Delete(ctx, c.key(id))
	}

	// Tier 2: local catalog
	if c.local != nil && c.local.Loaded() {
		if p := c.local.Product(id); p != nil {
			c.localHits.Add(1)
			observability.ProductTierHit("local")
			c.recordCategory(p.Category)
			c.writeBack(ctx, p, c.opts.TTL)
			return p, nil
		}
	}

	// Tier 3: remote catalog
	if c.remote != nil {
		p, err := c.remote.Product(ctx, id)
		if err != nil {
			obsctx.LoggerFromContext(ctx).Warn("remote catalog lookup failed",
				slog.String("product_id", id), slog.Any("error", err))
		} else if p != nil {
			c.remoteHits.Add(1)
			observability.ProductTierHit("remote")
			c.recordCategory(p.Category)
			c.writeBack(ctx, p, c.opts.TTL)
			return p, nil
		}
	}

	// Tier 4: minimal synthesis, short TTL so a real record replaces it soon.
	if c.opts.SynthMinimal {
		p := &domain.Product{
			ID:       id,
			Title:    fmt.Sprintf("Product %s", id),
			Currency: c.opts.DefaultCurrency,
			Minimal:  true,
		}
		c.minimalHits.Add(1)
		observability.ProductTierHit("minimal")
		c.writeBack(ctx, p, c.opts.MinimalTTL)
		return p, nil
	}

	c.totalFailures.Add(1)
	observability.ProductTierHit("miss")
	return nil, nil
}

func (c *Cache) writeBack(ctx context.Context, p *domain.Product, ttl time.Duration) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, c.key(p.ID), raw, ttl); err != nil {
		obsctx.LoggerFromContext(ctx).Debug("product write-back skipped",
			slog.String("product_id", p.ID), slog.Any("error", err))
	}
}

// Preload fans out Get for every id under a concurrency limit.
func (c *Cache) Preload(ctx context.Context, ids []string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 5
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := c.Get(gctx, id, "")
			return err
		})
	}
	return g.Wait()
}

// Invalidate drops the KV entries for the given ids and returns how many were
// actually removed.
func (c *Cache) Invalidate(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	n, err := c.store.Delete(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("products invalidate: %w", err)
	}
	return n, nil
}

func (c *Cache) recordAccess(id, marketID string) {
	counter(&c.freq, id).Add(1)
	counter(&c.lastAccess, id).Store(time.Now().Unix())
	if marketID != "" {
		mv, _ := c.marketPop.LoadOrStore(marketID, &sync.Map{})
		counter(mv.(*sync.Map), id).Add(1)
	}
}

func (c *Cache) recordCategory(category string) {
	if category != "" {
		counter(&c.catDemand, category).Add(1)
	}
}

func counter(m *sync.Map, key string) *atomic.Int64 {
	v, _ := m.LoadOrStore(key, &atomic.Int64{})
	return v.(*atomic.Int64)
}

// AccessCount returns the lifetime access count for a product id.
func (c *Cache) AccessCount(id string) int64 {
	if v, ok := c.freq.Load(id); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Stats exposes the tier counters and telemetry sizes.
func (c *Cache) Stats() map[string]any {
	var tracked int
	c.freq.Range(func(_, _ any) bool { tracked++; return true })
	return map[string]any{
		"kv_hits":          c.kvHits.Load(),
		"local_hits":       c.localHits.Load(),
		"remote_hits":      c.remoteHits.Load(),
		"minimal_hits":     c.minimalHits.Load(),
		"total_failures":   c.totalFailures.Load(),
		"tracked_products": tracked,
	}
}
