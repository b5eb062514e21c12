package products

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	obsctx "github.com/fairyhunter13/retail-reco/internal/observability"
)

// trendHalfLife controls how fast an access stops counting as "trending".
const trendHalfLife = 6 * time.Hour

// PlanWarmup composes the load set for one market from four signals: market
// popularity, overall access frequency, trending (frequency decayed by
// recency) and demand-weighted categories. The result is de-duplicated and
// trimmed to budget.
func (c *Cache) PlanWarmup(marketID string, budget int) []string {
	if budget <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, budget)
	plan := make([]string, 0, budget)
	add := func(ids []string) {
		for _, id := range ids {
			if len(plan) >= budget {
				return
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			plan = append(plan, id)
		}
	}

	add(c.topMarket(marketID, budget))
	add(c.topFrequency(budget))
	add(c.Trending(budget))
	add(c.topCategoryProducts(budget))
	return plan
}

// Warmup plans and preloads every market in order, one budget per market.
// Returns the number of ids preloaded.
func (c *Cache) Warmup(ctx context.Context, markets []string, budget int) int {
	lg := obsctx.TaskLogger(ctx, "product_warmup")
	total := 0
	for _, m := range markets {
		plan := c.PlanWarmup(m, budget)
		if len(plan) == 0 {
			continue
		}
		if err := c.Preload(ctx, plan, 5); err != nil {
			lg.Warn("warm-up preload incomplete", slog.String("market", m), slog.Any("error", err))
		}
		total += len(plan)
		lg.Info("market warmed up", slog.String("market", m), slog.Int("products", len(plan)))
	}
	return total
}

// InvalidateStale drops KV entries for products not accessed within the stale
// window and returns the number invalidated.
func (c *Cache) InvalidateStale(ctx context.Context, staleAfter time.Duration) int64 {
	cutoff := time.Now().Add(-staleAfter).Unix()
	var stale []string
	c.lastAccess.Range(func(k, v any) bool {
		if v.(*atomic.Int64).Load() < cutoff {
			stale = append(stale, k.(string))
		}
		return true
	})
	if len(stale) == 0 {
		return 0
	}
	n, err := c.Invalidate(ctx, stale...)
	if err != nil {
		obsctx.TaskLogger(ctx, "product_adaptive").Warn("stale invalidation failed", slog.Any("error", err))
		return 0
	}
	for _, id := range stale {
		c.lastAccess.Delete(id)
	}
	return n
}

// RunAdaptive periodically invalidates stale entries and re-preloads the
// current trending set until ctx is cancelled.
func (c *Cache) RunAdaptive(ctx context.Context, interval, staleAfter time.Duration, trendingN int) {
	lg := obsctx.TaskLogger(ctx, "product_adaptive")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			invalidated := c.InvalidateStale(ctx, staleAfter)
			trending := c.Trending(trendingN)
			if len(trending) > 0 {
				if err := c.Preload(ctx, trending, 5); err != nil {
					lg.Warn("trending preload incomplete", slog.Any("error", err))
				}
			}
			lg.Debug("adaptive cycle complete",
				slog.Int64("invalidated", invalidated),
				slog.Int("trending", len(trending)))
		}
	}
}

// Trending returns up to n product ids ranked by recency-decayed access count.
func (c *Cache) Trending(n int) []string {
	type scored struct {
		id    string
		score float64
	}
	now := time.Now().Unix()
	var items []scored
	c.freq.Range(func(k, v any) bool {
		id := k.(string)
		count := float64(v.(*atomic.Int64).Load())
		age := 0.0
		if la, ok := c.lastAccess.Load(id); ok {
			age = float64(now - la.(*atomic.Int64).Load())
		}
		decay := math.Exp2(-age / trendHalfLife.Seconds())
		if s := count * decay; s > 0 {
			items = append(items, scored{id: id, score: s})
		}
		return true
	})
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].id < items[j].id
	})
	if len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

// MarketPopularity returns up to n product ids for marketID ranked by
// per-market access count. The fallback ladder's popularity rung reads this.
func (c *Cache) MarketPopularity(marketID string, n int) []string {
	mv, ok := c.marketPop.Load(marketID)
	if !ok {
		return nil
	}
	return topCounters(mv.(*sync.Map), n)
}

func (c *Cache) topMarket(marketID string, n int) []string {
	return c.MarketPopularity(marketID, n)
}

func (c *Cache) topFrequency(n int) []string {
	return topCounters(&c.freq, n)
}

// topCategoryProducts draws ids from the local catalog belonging to the most
// demanded categories.
func (c *Cache) topCategoryProducts(n int) []string {
	if c.local == nil || !c.local.Loaded() {
		return nil
	}
	cats := topCounters(&c.catDemand, 3)
	if len(cats) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(cats))
	for _, cat := range cats {
		wanted[cat] = struct{}{}
	}
	var out []string
	for _, p := range c.local.All() {
		if len(out) >= n {
			break
		}
		if _, ok := wanted[p.Category]; ok {
			out = append(out, p.ID)
		}
	}
	return out
}

func topCounters(m *sync.Map, n int) []string {
	type kc struct {
		key   string
		count int64
	}
	var items []kc
	m.Range(func(k, v any) bool {
		items = append(items, kc{key: k.(string), count: v.(*atomic.Int64).Load()})
		return true
	})
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].key < items[j].key
	})
	if len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out
}
