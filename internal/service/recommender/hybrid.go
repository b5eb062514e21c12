// Package recommender implements the hybrid recommender: a weighted fusion
// of the local content engine and the remote collaborative engine, with
// seen-product exclusion, a multi-rung fallback ladder and product-cache
// enrichment. Recommend never fails; it degrades.
package recommender

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fairyhunter13/retail-reco/internal/adapter/observability"
	"github.com/fairyhunter13/retail-reco/internal/config"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	obsctx "github.com/fairyhunter13/retail-reco/internal/observability"
	"github.com/fairyhunter13/retail-reco/internal/service/events"
	"github.com/fairyhunter13/retail-reco/internal/service/products"
)

// maxOverRequest caps how many extra candidates the seen-set exclusion asks
// the engines for.
const maxOverRequest = 10

// Options configures composition.
type Options struct {
	// ContentWeight in [0,1]: 1 is pure content, 0 is pure collaborative.
	ContentWeight   float64
	ExcludeSeen     bool
	DefaultN        int
	DefaultCurrency string
	Placeholders    []config.Placeholder
}

func (o Options) withDefaults() Options {
	if o.DefaultN <= 0 {
		o.DefaultN = 5
	}
	if o.DefaultCurrency == "" {
		o.DefaultCurrency = "COP"
	}
	if len(o.Placeholders) == 0 {
		o.Placeholders = config.DefaultVocabulary().Placeholders
	}
	return o
}

// Hybrid composes the two engines. Every collaborator except the engines is
// optional: a nil product cache skips enrichment, a nil event store skips
// seen-set exclusion and event forwarding.
type Hybrid struct {
	content  domain.ContentRecommender
	collab   domain.CollaborativeEngine
	catalog  products.LocalCatalog
	products *products.Cache
	events   *events.Store
	opts     Options
}

// New builds a hybrid recommender.
func New(content domain.ContentRecommender, collab domain.CollaborativeEngine, catalog products.LocalCatalog, cache *products.Cache, store *events.Store, opts Options) *Hybrid {
	return &Hybrid{
		content:  content,
		collab:   collab,
		catalog:  catalog,
		products: cache,
		events:   store,
		opts:     opts.withDefaults(),
	}
}

// Request carries one recommendation call.
type Request struct {
	UserID    string
	ProductID string
	N         int
	MarketID  string
	// Exclude is the caller's override exclusion list (e.g. shown_products);
	// it is combined with the user's seen set.
	Exclude []string
}

// Recommend returns up to req.N enriched recommendations. Engine failures
// degrade to the other engine, then to the fallback ladder; the result can be
// empty only when even the emergency placeholders are exhausted by n<=0.
func (h *Hybrid) Recommend(ctx context.Context, req Request) []domain.Recommendation {
	start := time.Now()
	n := req.N
	if n <= 0 {
		n = h.opts.DefaultN
	}
	lg := obsctx.LoggerFromContext(ctx)

	excluded := make(map[string]struct{}, len(req.Exclude))
	for _, id := range req.Exclude {
		excluded[id] = struct{}{}
	}
	if h.opts.ExcludeSeen && h.events != nil && req.UserID != "" {
		for _, id := range h.events.SeenProducts(ctx, req.UserID) {
			excluded[id] = struct{}{}
		}
	}

	over := len(excluded)
	if over > maxOverRequest {
		over = maxOverRequest
	}
	fetchN := n + over

	fused := h.fuse(ctx, lg, req, fetchN)

	recs := make([]domain.Recommendation, 0, n)
	included := make(map[string]struct{}, n)
	for _, cand := range fused {
		if len(recs) >= n {
			break
		}
		if _, skip := excluded[cand.ProductID]; skip {
			continue
		}
		recs = append(recs, cand)
		included[cand.ProductID] = struct{}{}
	}

	if len(recs) < n {
		for id := range included {
			excluded[id] = struct{}{}
		}
		recs = append(recs, h.ladder(ctx, req.MarketID, n-len(recs), excluded)...)
	}

	h.enrich(ctx, recs)

	source := domain.SourceHybrid
	if len(recs) > 0 {
		source = recs[0].Source
	}
	observability.ObserveRecommendation(source, time.Since(start), len(recs))
	return recs
}

// fuse gathers candidates from both engines and merges them by weighted
// score. Shared ids sum their contributions.
func (h *Hybrid) fuse(ctx context.Context, lg *slog.Logger, req Request, n int) []domain.Recommendation {
	w := h.opts.ContentWeight
	combined := make(map[string]*domain.Recommendation)

	if w > 0 && req.ProductID != "" && h.content != nil {
		cands, err := h.content.SimilarTo(ctx, req.ProductID, n)
		if err != nil {
			lg.Warn("content engine unavailable",
				slog.String("product_id", req.ProductID), slog.Any("error", err))
		}
		for _, c := range cands {
			combined[c.ProductID] = &domain.Recommendation{
				ProductID: c.ProductID,
				Score:     c.Score * w,
				Source:    domain.SourceContent,
			}
		}
	}

	if w < 1 && h.collab != nil {
		cands, err := h.collab.Recommend(ctx, req.UserID, n)
		if err != nil {
			lg.Warn("collaborative engine unavailable",
				slog.String("user_id", req.UserID), slog.Any("error", err))
		}
		for _, c := range cands {
			if existing, ok := combined[c.ProductID]; ok {
				existing.Score += c.Score * (1 - w)
				existing.Source = domain.SourceHybrid
				continue
			}
			combined[c.ProductID] = &domain.Recommendation{
				ProductID: c.ProductID,
				Score:     c.Score * (1 - w),
				Source:    domain.SourceCollaborative,
			}
		}
	}

	out := make([]domain.Recommendation, 0, len(combined))
	for _, r := range combined {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// enrich copies catalog details into each recommendation via the product
// cache. A missing record gets a synthetic title and the incomplete flag.
func (h *Hybrid) enrich(ctx context.Context, recs []domain.Recommendation) {
	for i := range recs {
		if recs[i].Title != "" {
			continue // placeholder rung already carries details
		}
		var p *domain.Product
		if h.products != nil {
			p, _ = h.products.Get(ctx, recs[i].ProductID, "")
		}
		if p == nil {
			recs[i].Title = fmt.Sprintf("Product %s", recs[i].ProductID)
			recs[i].IncompleteData = true
			continue
		}
		recs[i].Title = p.Title
		recs[i].Description = p.Description
		recs[i].Price = p.Price
		recs[i].Currency = p.Currency
		recs[i].Category = p.Category
		if len(p.ImageURLs) > 0 {
			recs[i].ImageURL = p.ImageURLs[0]
		}
		if recs[i].Currency == "" {
			recs[i].Currency = h.opts.DefaultCurrency
		}
	}
}

// RecordEvent forwards a user event to the collaborative engine (online
// learning) and the event store, returning the engine ack enriched with the
// store outcome.
func (h *Hybrid) RecordEvent(ctx context.Context, userID string, evType domain.EventType, productID string, amount float64, sessionID, marketID string) map[string]any {
	ack := map[string]any{}
	if h.collab != nil {
		res, err := h.collab.RecordEvent(ctx, domain.EngineEvent{
			UserID:    userID,
			Type:      evType,
			ProductID: productID,
			Amount:    amount,
		})
		if err != nil {
			obsctx.LoggerFromContext(ctx).Warn("collaborative event forward failed",
				slog.String("user_id", userID), slog.Any("error", err))
			ack["engine_status"] = "unavailable"
		} else {
			for k, v := range res {
				ack[k] = v
			}
			ack["engine_status"] = "ok"
		}
	}

	stored := false
	if h.events != nil {
		data := map[string]any{}
		if productID != "" {
			data["product_id"] = productID
		}
		if amount != 0 {
			data["amount"] = amount
		}
		stored = h.events.Record(ctx, events.RecordInput{
			UserID:    userID,
			Type:      evType,
			Data:      data,
			SessionID: sessionID,
			MarketID:  marketID,
		})
	}
	ack["event_store_status"] = map[bool]string{true: "buffered", false: "rejected"}[stored]
	return ack
}
