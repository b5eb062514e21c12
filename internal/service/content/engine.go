// Package content implements the local content-similarity engine: a TF-IDF
// model over the in-memory product catalog with cosine top-N lookup.
//
// The engine is a leaf service. The factory hands the same instance to the
// product cache (as the local catalog tier) and to the hybrid recommender
// (as the content engine), so there are no back-references between them.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/fairyhunter13/retail-reco/internal/domain"
	"github.com/fairyhunter13/retail-reco/pkg/textx"
)

// Engine holds the catalog table and the TF-IDF vectors derived from it.
// All reads are safe under concurrent Load calls.
type Engine struct {
	mu sync.RWMutex

	products map[string]domain.Product
	order    []string
	vectors  map[string]map[string]float64
	docFreq  map[string]int
	loaded   bool

	neighbors *neighborCache
}

// New returns an empty engine. Call Load before serving similarity queries;
// Loaded reports readiness.
func New() *Engine {
	return &Engine{
		products:  make(map[string]domain.Product),
		vectors:   make(map[string]map[string]float64),
		docFreq:   make(map[string]int),
		neighbors: newNeighborCache(512),
	}
}

// Load replaces the catalog table and rebuilds the TF-IDF model. The previous
// model keeps serving until the swap, so a refresh never leaves the engine
// unloaded.
func (e *Engine) Load(products []domain.Product) {
	table := make(map[string]domain.Product, len(products))
	order := make([]string, 0, len(products))
	docs := make(map[string][]string, len(products))
	df := make(map[string]int)

	for _, p := range products {
		if p.ID == "" {
			continue
		}
		if _, dup := table[p.ID]; dup {
			continue
		}
		table[p.ID] = p
		order = append(order, p.ID)
		toks := textx.Tokenize(p.Title + " " + p.Description + " " + p.Category + " " + p.Brand)
		docs[p.ID] = toks
		for _, t := range uniqueTokens(toks) {
			df[t]++
		}
	}

	n := len(table)
	vectors := make(map[string]map[string]float64, n)
	for id, toks := range docs {
		vectors[id] = vectorize(toks, df, n)
	}

	e.mu.Lock()
	e.products = table
	e.order = order
	e.vectors = vectors
	e.docFreq = df
	e.loaded = n > 0
	e.mu.Unlock()
	e.neighbors.purge()

	slog.Info("content engine loaded",
		slog.Int("products", n),
		slog.Int("vocabulary", len(df)))
}

// Loaded reports whether the catalog model is ready to serve.
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Size returns the number of catalog records.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.products)
}

// Product returns the catalog record for id, or nil when absent.
func (e *Engine) Product(id string) *domain.Product {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.products[id]; ok {
		cp := p
		return &cp
	}
	return nil
}

// All returns the catalog records in load order. The fallback ladder's
// first-N rung depends on this order being stable.
func (e *Engine) All() []domain.Product {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Product, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.products[id])
	}
	return out
}

// Categories returns the distinct categories observed in the catalog, sorted.
// The diversity cache extends its intent vocabulary with these at runtime.
func (e *Engine) Categories() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, p := range e.products {
		if p.Category != "" {
			seen[p.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SimilarTo returns up to n candidates ranked by cosine similarity to
// productID. An unloaded engine or an unknown product yields an error wrapping
// domain.ErrCatalogMiss so callers can degrade to the collaborative engine.
func (e *Engine) SimilarTo(ctx context.Context, productID string, n int) ([]domain.ScoredProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if cached, ok := e.neighbors.get(productID, n); ok {
		return cached, nil
	}

	e.mu.RLock()
	base, ok := e.vectors[productID]
	if !e.loaded || !ok {
		e.mu.RUnlock()
		return nil, fmt.Errorf("content similar_to %s: %w", productID, domain.ErrCatalogMiss)
	}
	scored := make([]domain.ScoredProduct, 0, len(e.vectors)-1)
	for id, vec := range e.vectors {
		if id == productID {
			continue
		}
		if s := dot(base, vec); s > 0 {
			scored = append(scored, domain.ScoredProduct{ProductID: id, Score: s})
		}
	}
	e.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ProductID < scored[j].ProductID
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	e.neighbors.put(productID, n, scored)
	return scored, nil
}

// vectorize builds an L2-normalized TF-IDF vector for one document.
func vectorize(tokens []string, df map[string]int, docs int) map[string]float64 {
	if len(tokens) == 0 || docs == 0 {
		return map[string]float64{}
	}
	tf := make(map[string]float64)
	for _, t := range tokens {
		tf[t]++
	}
	vec := make(map[string]float64, len(tf))
	var norm float64
	for t, f := range tf {
		idf := math.Log(float64(1+docs) / float64(1+df[t]))
		w := (f / float64(len(tokens))) * (idf + 1)
		vec[t] = w
		norm += w * w
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for t := range vec {
		vec[t] /= norm
	}
	return vec
}

func dot(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var s float64
	for t, w := range a {
		if w2, ok := b[t]; ok {
			s += w * w2
		}
	}
	return s
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
