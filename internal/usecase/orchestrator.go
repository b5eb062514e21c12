// Package usecase composes the serving flow: diversity cache in front, the
// hybrid recommender behind it, optional conversational generation, and the
// event trail recorded asynchronously.
package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
	"github.com/fairyhunter13/retail-reco/internal/config"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	obsctx "github.com/fairyhunter13/retail-reco/internal/observability"
	"github.com/fairyhunter13/retail-reco/internal/service/diversity"
	"github.com/fairyhunter13/retail-reco/internal/service/events"
	"github.com/fairyhunter13/retail-reco/internal/service/products"
	"github.com/fairyhunter13/retail-reco/internal/service/recommender"
)

// genericFallbackReply is served when the whole serving path is degraded and
// no generator output is available.
const genericFallbackReply = "Here are some popular picks while we sort things out on our side."

// Orchestrator drives one recommendation conversation turn end to end.
type Orchestrator struct {
	store     kv.Store
	cache     *diversity.Cache
	hybrid    *recommender.Hybrid
	generator domain.ResponseGenerator
	events    *events.Store
	products  *products.Cache
	defaultN  int
}

// New wires an orchestrator. generator may be nil (no conversational reply);
// products is only consulted for the metrics union.
func New(store kv.Store, cache *diversity.Cache, hybrid *recommender.Hybrid, generator domain.ResponseGenerator, eventStore *events.Store, productCache *products.Cache, defaultN int) *Orchestrator {
	if generator == nil {
		generator = noopGenerator{}
	}
	if defaultN <= 0 {
		defaultN = 5
	}
	return &Orchestrator{
		store:     store,
		cache:     cache,
		hybrid:    hybrid,
		generator: generator,
		events:    eventStore,
		products:  productCache,
		defaultN:  defaultN,
	}
}

type noopGenerator struct{}

func (noopGenerator) Generate(context.Context, domain.GenerationInput) (string, error) {
	return "", nil
}

// Recommend serves one turn. It never returns an error to the caller: a cache
// hit short-circuits, engine failures degrade through the recommender's
// fallback ladder, and an unexpected panic downgrades to the emergency
// placeholder response with error_fallback set.
func (o *Orchestrator) Recommend(ctx context.Context, userID, query string, qctx domain.QueryContext) (resp *domain.RecommendationResponse) {
	lg := obsctx.LoggerFromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			lg.Error("recommendation flow panicked",
				slog.String("user_id", userID), slog.Any("panic", r))
			resp = o.emergencyResponse()
		}
	}()

	if cached, err := o.cache.GetCached(ctx, userID, query, qctx); err == nil && cached != nil {
		return cached
	}

	_, intent := o.cache.Key(userID, query, qctx)

	// Anchor content similarity on the most recently seen product, if any.
	var anchor string
	if o.events != nil {
		if seen := o.events.SeenProducts(ctx, userID); len(seen) > 0 {
			anchor = seen[0]
		}
	}

	recs := o.hybrid.Recommend(ctx, recommender.Request{
		UserID:    userID,
		ProductID: anchor,
		N:         o.defaultN,
		MarketID:  qctx.MarketID,
		Exclude:   qctx.ShownProducts,
	})
	degraded := allEmergency(recs)

	aiResponse, err := o.generator.Generate(ctx, domain.GenerationInput{
		UserID:          userID,
		Query:           query,
		Intent:          intent,
		MarketID:        qctx.MarketID,
		Recommendations: recs,
	})
	if err != nil {
		lg.Warn("response generation failed",
			slog.String("user_id", userID), slog.Any("error", err))
		aiResponse = ""
	}
	if degraded && aiResponse == "" {
		aiResponse = genericFallbackReply
	}

	metadata := map[string]any{
		"_cache_hit":  false,
		"intent":      intent,
		"turn_number": qctx.TurnNumber,
		"count":       len(recs),
	}
	if qctx.MarketID != "" {
		metadata["market_id"] = qctx.MarketID
	}
	if len(recs) > 0 {
		metadata["source"] = recs[0].Source
	}
	if degraded {
		metadata["error_fallback"] = true
	}
	resp = &domain.RecommendationResponse{
		Recommendations: recs,
		AIResponse:      aiResponse,
		Metadata:        metadata,
	}

	if key, cerr := o.cache.Cache(ctx, userID, query, qctx, resp, 0); cerr != nil {
		lg.Debug("response caching skipped", slog.Any("error", cerr))
	} else {
		metadata["cache_key"] = key
	}

	o.recordIntentAsync(ctx, userID, intent, qctx)
	return resp
}

// recordIntentAsync appends a conversation_intent event off the request path.
func (o *Orchestrator) recordIntentAsync(ctx context.Context, userID, intent string, qctx domain.QueryContext) {
	if o.events == nil || userID == "" {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		o.events.Record(bg, events.RecordInput{
			UserID:    userID,
			Type:      domain.EventConversationIntent,
			Data:      map[string]any{"intent": intent},
			SessionID: qctx.SessionID,
			MarketID:  qctx.MarketID,
		})
	}()
}

func (o *Orchestrator) emergencyResponse() *domain.RecommendationResponse {
	placeholders := config.DefaultVocabulary().Placeholders
	recs := make([]domain.Recommendation, 0, len(placeholders))
	for _, ph := range placeholders {
		recs = append(recs, domain.Recommendation{
			ProductID: ph.ID,
			Score:     0.1,
			Source:    domain.SourceFallbackEmergency,
			Title:     ph.Title,
			Category:  ph.Category,
			Price:     ph.Price,
			Currency:  ph.Currency,
		})
	}
	return &domain.RecommendationResponse{
		Recommendations: recs,
		AIResponse:      genericFallbackReply,
		Metadata: map[string]any{
			"_cache_hit":     false,
			"error_fallback": true,
			"source":         domain.SourceFallbackEmergency,
		},
	}
}

func allEmergency(recs []domain.Recommendation) bool {
	if len(recs) == 0 {
		return true
	}
	for _, r := range recs {
		if r.Source != domain.SourceFallbackEmergency {
			return false
		}
	}
	return true
}

// RecordEvent validates nothing itself; it forwards to the recommender so the
// collaborative engine and the event store stay in sync.
func (o *Orchestrator) RecordEvent(ctx context.Context, userID string, evType domain.EventType, productID string, amount float64, sessionID, marketID string) map[string]any {
	return o.hybrid.RecordEvent(ctx, userID, evType, productID, amount, sessionID, marketID)
}

// Profile exposes the materialized user profile.
func (o *Orchestrator) Profile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return o.events.GetProfile(ctx, userID)
}

// InvalidateUser drops the user's cached responses.
func (o *Orchestrator) InvalidateUser(ctx context.Context, userID string) (int64, error) {
	return o.cache.InvalidateUser(ctx, userID)
}

// HealthCheck aggregates component health. Overall status is the worst of
// the parts: any unhealthy part wins, then degraded, then healthy.
func (o *Orchestrator) HealthCheck(ctx context.Context) map[string]any {
	status := "healthy"
	worsen := func(s string) {
		switch {
		case s == "unhealthy":
			status = "unhealthy"
		case s == "degraded" && status == "healthy":
			status = "degraded"
		}
	}

	kvStatus := "healthy"
	var pingMS float64
	if latency, err := o.store.Ping(ctx); err != nil {
		kvStatus = "unhealthy"
	} else {
		pingMS = float64(latency) / float64(time.Millisecond)
	}
	worsen(kvStatus)

	eventsHealth := o.events.HealthCheck(ctx)
	if s, ok := eventsHealth["status"].(string); ok {
		worsen(s)
	}

	return map[string]any{
		"status":      status,
		"checked_at":  time.Now().UTC(),
		"kv":          map[string]any{"status": kvStatus, "ping_ms": pingMS},
		"event_store": eventsHealth,
	}
}

// Metrics unions the component metric maps under stable keys.
func (o *Orchestrator) Metrics() map[string]any {
	out := map[string]any{
		"diversity_cache": o.cache.Metrics(),
		"event_store":     o.events.Stats(),
	}
	if o.products != nil {
		out["product_cache"] = o.products.Stats()
	}
	return out
}
