package usecase_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	"github.com/fairyhunter13/retail-reco/internal/service/diversity"
	"github.com/fairyhunter13/retail-reco/internal/service/events"
	"github.com/fairyhunter13/retail-reco/internal/service/recommender"
	"github.com/fairyhunter13/retail-reco/internal/usecase"
)

type fixedCollab struct {
	cands []domain.ScoredProduct
	calls int
}

func (f *fixedCollab) Recommend(_ context.Context, _ string, n int) ([]domain.ScoredProduct, error) {
	f.calls++
	if n > len(f.cands) {
		n = len(f.cands)
	}
	return f.cands[:n], nil
}

func (f *fixedCollab) RecordEvent(_ context.Context, _ domain.EngineEvent) (map[string]any, error) {
	return map[string]any{}, nil
}

type echoGenerator struct{ reply string }

func (g echoGenerator) Generate(_ context.Context, _ domain.GenerationInput) (string, error) {
	return g.reply, nil
}

func candidates(ids ...string) []domain.ScoredProduct {
	out := make([]domain.ScoredProduct, len(ids))
	for i, id := range ids {
		out[i] = domain.ScoredProduct{ProductID: id, Score: 1 - float64(i)*0.05}
	}
	return out
}

func newOrchestrator(t *testing.T, collab domain.CollaborativeEngine, gen domain.ResponseGenerator) (*usecase.Orchestrator, *events.Store, *kv.Memory) {
	t.Helper()
	mem, err := kv.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	store := events.New(mem, nil, events.Options{})
	cache := diversity.New(mem, nil)
	hybrid := recommender.New(nil, collab, nil, nil, store, recommender.Options{ContentWeight: 0.5})
	return usecase.New(mem, cache, hybrid, gen, store, nil, 5), store, mem
}

func productIDs(recs []domain.Recommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ProductID
	}
	return out
}

func TestRecommendFollowUpGetsFreshProducts(t *testing.T) {
	collab := &fixedCollab{cands: candidates("P1", "P2", "P3", "P4", "P5", "P6", "P7", "P8", "P9", "P10")}
	o, _, _ := newOrchestrator(t, collab, nil)
	ctx := context.Background()

	first := o.Recommend(ctx, "U1", "show me headphones", domain.QueryContext{TurnNumber: 1, MarketID: "US"})
	require.NotNil(t, first)
	assert.Equal(t, []string{"P1", "P2", "P3", "P4", "P5"}, productIDs(first.Recommendations))
	assert.Equal(t, false, first.Metadata["_cache_hit"])

	followUp := o.Recommend(ctx, "U1", "show me more", domain.QueryContext{
		TurnNumber:    2,
		ShownProducts: []string{"P1", "P2", "P3", "P4", "P5"},
		MarketID:      "US",
	})
	require.NotNil(t, followUp)
	assert.Equal(t, false, followUp.Metadata["_cache_hit"], "a changed exclusion set is a different key")
	assert.Equal(t, "follow_up_general", followUp.Metadata["intent"])
	assert.Equal(t, 2, collab.calls, "the recommender is re-invoked on the follow-up")
	for _, id := range productIDs(followUp.Recommendations) {
		assert.NotContains(t, []string{"P1", "P2", "P3", "P4", "P5"}, id,
			"shown products never resurface on a follow-up")
	}
	assert.NotEmpty(t, followUp.Recommendations)
}

func TestRecommendIdenticalRepeatHitsCache(t *testing.T) {
	collab := &fixedCollab{cands: candidates("P1", "P2", "P3", "P4", "P5")}
	o, _, _ := newOrchestrator(t, collab, echoGenerator{reply: "how about these?"})
	ctx := context.Background()
	qctx := domain.QueryContext{TurnNumber: 1, MarketID: "US"}

	first := o.Recommend(ctx, "U1", "show me headphones", qctx)
	second := o.Recommend(ctx, "U1", "show me headphones", qctx)

	assert.Equal(t, 1, collab.calls, "the second call is served from the cache")
	assert.Equal(t, true, second.Metadata["_cache_hit"])
	assert.NotEmpty(t, second.Metadata["cache_key"])
	assert.Equal(t, first.AIResponse, second.AIResponse)

	firstRecs, err := json.Marshal(first.Recommendations)
	require.NoError(t, err)
	secondRecs, err := json.Marshal(second.Recommendations)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstRecs), string(secondRecs))
}

func TestRecommendTotalOutageServesPlaceholders(t *testing.T) {
	o, _, _ := newOrchestrator(t, nil, nil)

	resp := o.Recommend(context.Background(), "U1", "anything", domain.QueryContext{TurnNumber: 1})
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.Recommendations, "the emergency rung always yields items")
	for _, r := range resp.Recommendations {
		assert.Equal(t, domain.SourceFallbackEmergency, r.Source)
	}
	assert.Equal(t, true, resp.Metadata["error_fallback"])
	assert.NotEmpty(t, resp.AIResponse, "a degraded response still talks to the user")
}

func TestRecommendRecordsIntentEvent(t *testing.T) {
	collab := &fixedCollab{cands: candidates("P1", "P2")}
	o, store, _ := newOrchestrator(t, collab, nil)

	o.Recommend(context.Background(), "U1", "recommend shoes", domain.QueryContext{TurnNumber: 1, SessionID: "sess-1"})

	require.Eventually(t, func() bool { return store.Pending() > 0 }, time.Second, 5*time.Millisecond,
		"the conversation intent lands in the event buffer off the request path")
}

func TestHealthCheckAggregates(t *testing.T) {
	collab := &fixedCollab{cands: candidates("P1")}
	o, store, _ := newOrchestrator(t, collab, nil)

	h := o.HealthCheck(context.Background())
	assert.Equal(t, "healthy", h["status"])

	for i := 0; i < 5; i++ {
		store.WriteBreaker().RecordFailure()
	}
	h = o.HealthCheck(context.Background())
	assert.Equal(t, "degraded", h["status"], "an open event-store breaker degrades the aggregate")
}

func TestMetricsUnion(t *testing.T) {
	collab := &fixedCollab{cands: candidates("P1", "P2", "P3", "P4", "P5")}
	o, _, _ := newOrchestrator(t, collab, nil)
	ctx := context.Background()

	o.Recommend(ctx, "U1", "show me headphones", domain.QueryContext{TurnNumber: 1})
	o.Recommend(ctx, "U1", "show me headphones", domain.QueryContext{TurnNumber: 1})

	m := o.Metrics()
	dc, ok := m["diversity_cache"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(1), dc["hits"])
	assert.Equal(t, int64(1), dc["misses"])
	_, ok = m["event_store"].(map[string]any)
	assert.True(t, ok)
}
