package recommender_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
	"github.com/fairyhunter13/retail-reco/internal/config"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	"github.com/fairyhunter13/retail-reco/internal/service/content"
	"github.com/fairyhunter13/retail-reco/internal/service/events"
	"github.com/fairyhunter13/retail-reco/internal/service/products"
	"github.com/fairyhunter13/retail-reco/internal/service/recommender"
)

type stubContent struct {
	cands  []domain.ScoredProduct
	err    error
	calls  int
	loaded bool
}

func (s *stubContent) SimilarTo(_ context.Context, _ string, _ int) ([]domain.ScoredProduct, error) {
	s.calls++
	return s.cands, s.err
}

func (s *stubContent) Loaded() bool { return s.loaded }

type stubCollab struct {
	cands []domain.ScoredProduct
	err   error
	calls int

	lastEvent domain.EngineEvent
	ack       map[string]any
	ackErr    error
}

func (s *stubCollab) Recommend(_ context.Context, _ string, _ int) ([]domain.ScoredProduct, error) {
	s.calls++
	return s.cands, s.err
}

func (s *stubCollab) RecordEvent(_ context.Context, ev domain.EngineEvent) (map[string]any, error) {
	s.lastEvent = ev
	return s.ack, s.ackErr
}

func catalogOf(t *testing.T, prods ...domain.Product) *content.Engine {
	t.Helper()
	eng := content.New()
	eng.Load(prods)
	return eng
}

func prod(id, category string) domain.Product {
	return domain.Product{ID: id, Title: "Title " + id, Category: category, Price: 100, Currency: "COP", Available: true}
}

func newCache(t *testing.T, local products.LocalCatalog) *products.Cache {
	t.Helper()
	mem, err := kv.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return products.New(mem, local, nil, products.Options{})
}

func TestRecommendFusionArithmetic(t *testing.T) {
	cont := &stubContent{loaded: true, cands: []domain.ScoredProduct{
		{ProductID: "p1", Score: 1.0},
		{ProductID: "p2", Score: 0.8},
	}}
	coll := &stubCollab{cands: []domain.ScoredProduct{
		{ProductID: "p2", Score: 1.0},
		{ProductID: "p3", Score: 0.6},
	}}
	local := catalogOf(t, prod("p1", "c"), prod("p2", "c"), prod("p3", "c"))
	h := recommender.New(cont, coll, local, newCache(t, local), nil, recommender.Options{ContentWeight: 0.5})

	recs := h.Recommend(context.Background(), recommender.Request{UserID: "u1", ProductID: "p9", N: 3})
	require.Len(t, recs, 3)

	// p2 appears in both sources: 0.8*0.5 + 1.0*0.5 = 0.9.
	assert.Equal(t, "p2", recs[0].ProductID)
	assert.InDelta(t, 0.9, recs[0].Score, 1e-9)
	assert.Equal(t, domain.SourceHybrid, recs[0].Source)

	assert.Equal(t, "p1", recs[1].ProductID)
	assert.InDelta(t, 0.5, recs[1].Score, 1e-9)
	assert.Equal(t, domain.SourceContent, recs[1].Source)

	assert.Equal(t, "p3", recs[2].ProductID)
	assert.InDelta(t, 0.3, recs[2].Score, 1e-9)
	assert.Equal(t, domain.SourceCollaborative, recs[2].Source)
}

func TestRecommendPureContentSkipsCollaborative(t *testing.T) {
	cont := &stubContent{loaded: true, cands: []domain.ScoredProduct{{ProductID: "p1", Score: 0.7}}}
	coll := &stubCollab{cands: []domain.ScoredProduct{{ProductID: "p2", Score: 0.9}}}
	local := catalogOf(t, prod("p1", "c"))
	h := recommender.New(cont, coll, local, newCache(t, local), nil, recommender.Options{ContentWeight: 1})

	recs := h.Recommend(context.Background(), recommender.Request{UserID: "u1", ProductID: "p9", N: 1})
	require.Len(t, recs, 1)
	assert.Equal(t, "p1", recs[0].ProductID)
	assert.Zero(t, coll.calls, "weight 1 never consults the collaborative engine")
}

func TestRecommendPureCollaborativeSkipsContent(t *testing.T) {
	cont := &stubContent{loaded: true, cands: []domain.ScoredProduct{{ProductID: "p1", Score: 0.7}}}
	coll := &stubCollab{cands: []domain.ScoredProduct{{ProductID: "p2", Score: 0.9}}}
	local := catalogOf(t, prod("p2", "c"))
	h := recommender.New(cont, coll, local, newCache(t, local), nil, recommender.Options{ContentWeight: 0})

	recs := h.Recommend(context.Background(), recommender.Request{UserID: "u1", ProductID: "p9", N: 1})
	require.Len(t, recs, 1)
	assert.Equal(t, "p2", recs[0].ProductID)
	assert.Zero(t, cont.calls, "weight 0 never consults the content engine")
}

func TestRecommendExcludesSeenProducts(t *testing.T) {
	mem, err := kv.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	store := events.New(mem, nil, events.Options{})
	ctx := context.Background()
	require.True(t, store.Record(ctx, events.RecordInput{
		UserID: "u1",
		Type:   domain.EventPurchase,
		Data:   map[string]any{"product_id": "p1"},
	}))
	require.NoError(t, store.Flush(ctx))

	cont := &stubContent{loaded: true, cands: []domain.ScoredProduct{
		{ProductID: "p1", Score: 1.0},
		{ProductID: "p2", Score: 0.8},
		{ProductID: "p3", Score: 0.6},
	}}
	local := catalogOf(t, prod("p1", "c"), prod("p2", "c"), prod("p3", "c"))
	h := recommender.New(cont, nil, local, newCache(t, local), store,
		recommender.Options{ContentWeight: 1, ExcludeSeen: true})

	recs := h.Recommend(ctx, recommender.Request{UserID: "u1", ProductID: "p9", N: 2, Exclude: []string{"p2"}})
	require.Len(t, recs, 2)
	assert.Equal(t, "p3", recs[0].ProductID, "purchased and shown products never resurface")
	// With every catalog product excluded the shortfall comes from the
	// emergency rung, never from a seen product.
	assert.Equal(t, domain.SourceFallbackEmergency, recs[1].Source)
}

func TestRecommendFallbackLadderFillsShortfall(t *testing.T) {
	cont := &stubContent{err: domain.ErrCatalogMiss}
	coll := &stubCollab{err: domain.ErrRemoteRecommender}
	local := catalogOf(t,
		prod("e1", "electronics"), prod("e2", "electronics"),
		prod("h1", "home"), prod("s1", "sports"),
	)
	h := recommender.New(cont, coll, local, newCache(t, local), nil, recommender.Options{ContentWeight: 0.5})

	recs := h.Recommend(context.Background(), recommender.Request{UserID: "u1", ProductID: "px", N: 3})
	require.Len(t, recs, 3)
	// Round-robin across categories before repeating one.
	assert.Equal(t, "e1", recs[0].ProductID)
	assert.Equal(t, "h1", recs[1].ProductID)
	assert.Equal(t, "s1", recs[2].ProductID)
	for _, r := range recs {
		assert.Equal(t, domain.SourceFallbackDiverse, r.Source)
		assert.NotEmpty(t, r.Title, "ladder results are enriched like engine results")
	}
}

func TestRecommendEmergencyPlaceholdersWhenEverythingEmpty(t *testing.T) {
	h := recommender.New(&stubContent{}, &stubCollab{err: domain.ErrRemoteRecommender}, nil, nil, nil,
		recommender.Options{ContentWeight: 0.5})

	recs := h.Recommend(context.Background(), recommender.Request{UserID: "u1", N: 3})
	require.Len(t, recs, 3, "the emergency rung guarantees a non-empty response")
	defaults := config.DefaultVocabulary().Placeholders
	for i, r := range recs {
		assert.Equal(t, domain.SourceFallbackEmergency, r.Source)
		assert.Equal(t, defaults[i].ID, r.ProductID)
		assert.Equal(t, defaults[i].Title, r.Title)
		assert.NotZero(t, r.Price)
	}
}

func TestRecommendEnrichmentFlagsMissingCatalogData(t *testing.T) {
	cont := &stubContent{loaded: true, cands: []domain.ScoredProduct{{ProductID: "ghost", Score: 0.9}}}
	local := catalogOf(t, prod("other", "c"))
	h := recommender.New(cont, nil, local, newCache(t, local), nil, recommender.Options{ContentWeight: 1})

	recs := h.Recommend(context.Background(), recommender.Request{UserID: "u1", ProductID: "px", N: 1})
	require.Len(t, recs, 1)
	assert.Equal(t, "ghost", recs[0].ProductID)
	assert.True(t, recs[0].IncompleteData)
	assert.Equal(t, "Product ghost", recs[0].Title)
}

func TestRecordEventForwardsToEngineAndStore(t *testing.T) {
	mem, err := kv.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	store := events.New(mem, nil, events.Options{})
	coll := &stubCollab{ack: map[string]any{"model_updated": true}}
	h := recommender.New(&stubContent{}, coll, nil, nil, store, recommender.Options{})

	ack := h.RecordEvent(context.Background(), "u1", domain.EventPurchase, "p1", 42.5, "sess-1", "CO")
	assert.Equal(t, "ok", ack["engine_status"])
	assert.Equal(t, true, ack["model_updated"])
	assert.Equal(t, "buffered", ack["event_store_status"])
	assert.Equal(t, domain.EventPurchase, coll.lastEvent.Type)
	assert.Equal(t, "p1", coll.lastEvent.ProductID)
	assert.Equal(t, 1, store.Pending())
}

func TestRecordEventSurvivesEngineOutage(t *testing.T) {
	mem, err := kv.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	store := events.New(mem, nil, events.Options{})
	coll := &stubCollab{ackErr: domain.ErrRemoteRecommender}
	h := recommender.New(&stubContent{}, coll, nil, nil, store, recommender.Options{})

	ack := h.RecordEvent(context.Background(), "u1", domain.EventProductView, "p1", 0, "", "")
	assert.Equal(t, "unavailable", ack["engine_status"])
	assert.Equal(t, "buffered", ack["event_store_status"], "the local log outlives the remote engine")
}
