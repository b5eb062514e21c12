package recommender

import (
	"context"

	"github.com/fairyhunter13/retail-reco/internal/domain"
)

// ladder fills the remaining slots when the engines come up short. Rungs, in
// order: category round-robin over the local catalog, market popularity from
// cache telemetry, the head of the catalog, and finally the configured
// emergency placeholders. The last rung never runs dry for n >= 1.
func (h *Hybrid) ladder(ctx context.Context, marketID string, n int, excluded map[string]struct{}) []domain.Recommendation {
	if n <= 0 {
		return nil
	}
	out := make([]domain.Recommendation, 0, n)
	take := func(id, source string) bool {
		if _, skip := excluded[id]; skip {
			return len(out) < n
		}
		excluded[id] = struct{}{}
		out = append(out, domain.Recommendation{
			ProductID: id,
			Score:     fallbackScore(source, len(out)),
			Source:    source,
		})
		return len(out) < n
	}

	for _, id := range h.diverseCategoryIDs(n * 2) {
		if !take(id, domain.SourceFallbackDiverse) {
			return out
		}
	}

	if h.products != nil {
		for _, id := range h.products.MarketPopularity(marketID, n*2) {
			if !take(id, domain.SourceFallbackPopular) {
				return out
			}
		}
	}

	if h.catalog != nil && h.catalog.Loaded() {
		for _, p := range h.catalog.All() {
			if !take(p.ID, domain.SourceFallbackCatalog) {
				return out
			}
		}
	}

	for _, ph := range h.opts.Placeholders {
		if _, skip := excluded[ph.ID]; skip {
			continue
		}
		excluded[ph.ID] = struct{}{}
		out = append(out, domain.Recommendation{
			ProductID: ph.ID,
			Score:     fallbackScore(domain.SourceFallbackEmergency, len(out)),
			Source:    domain.SourceFallbackEmergency,
			Title:     ph.Title,
			Category:  ph.Category,
			Price:     ph.Price,
			Currency:  ph.Currency,
		})
		if len(out) >= n {
			return out
		}
	}
	return out
}

// diverseCategoryIDs walks the catalog's categories round-robin so the rung
// spreads the slots across categories instead of repeating one.
func (h *Hybrid) diverseCategoryIDs(n int) []string {
	if h.catalog == nil || !h.catalog.Loaded() {
		return nil
	}
	byCat := make(map[string][]string)
	var cats []string
	for _, p := range h.catalog.All() {
		cat := p.Category
		if cat == "" {
			cat = "uncategorized"
		}
		if _, ok := byCat[cat]; !ok {
			cats = append(cats, cat)
		}
		byCat[cat] = append(byCat[cat], p.ID)
	}

	out := make([]string, 0, n)
	for round := 0; len(out) < n; round++ {
		progressed := false
		for _, cat := range cats {
			ids := byCat[cat]
			if round >= len(ids) {
				continue
			}
			progressed = true
			out = append(out, ids[round])
			if len(out) >= n {
				return out
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

// fallbackScore makes ladder results sort below engine results (engine scores
// live in (0,1]) while keeping rung order stable.
func fallbackScore(source string, position int) float64 {
	base := map[string]float64{
		domain.SourceFallbackDiverse:   0.40,
		domain.SourceFallbackPopular:   0.30,
		domain.SourceFallbackCatalog:   0.20,
		domain.SourceFallbackEmergency: 0.10,
	}[source]
	return base - float64(position)*0.001
}
