package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/retail-reco/internal/adapter/httpserver"
	"github.com/fairyhunter13/retail-reco/internal/adapter/inventory"
	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
	"github.com/fairyhunter13/retail-reco/internal/config"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	"github.com/fairyhunter13/retail-reco/internal/service/diversity"
	"github.com/fairyhunter13/retail-reco/internal/service/events"
	"github.com/fairyhunter13/retail-reco/internal/service/products"
	"github.com/fairyhunter13/retail-reco/internal/service/recommender"
	"github.com/fairyhunter13/retail-reco/internal/usecase"
)

type staticCollab struct{ ids []string }

func (c staticCollab) Recommend(_ context.Context, _ string, n int) ([]domain.ScoredProduct, error) {
	if n > len(c.ids) {
		n = len(c.ids)
	}
	out := make([]domain.ScoredProduct, n)
	for i := 0; i < n; i++ {
		out[i] = domain.ScoredProduct{ProductID: c.ids[i], Score: 1 - float64(i)*0.1}
	}
	return out, nil
}

func (staticCollab) RecordEvent(context.Context, domain.EngineEvent) (map[string]any, error) {
	return map[string]any{"model_updated": true}, nil
}

type testStack struct {
	router   http.Handler
	server   *httpserver.Server
	store    *events.Store
	mem      *kv.Memory
	products *products.Cache
}

func newStack(t *testing.T, cfg config.Config) *testStack {
	t.Helper()
	mem, err := kv.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	store := events.New(mem, nil, events.Options{})
	cache := diversity.New(mem, nil)
	prods := products.New(mem, nil, nil, products.Options{})
	hybrid := recommender.New(nil, staticCollab{ids: []string{"P1", "P2", "P3", "P4", "P5"}}, nil, prods, store, recommender.Options{ContentWeight: 0.5})
	orch := usecase.New(mem, cache, hybrid, nil, store, prods, 5)

	srv := httpserver.NewServer(cfg, orch, prods, store, inventory.NewKVStock(mem))
	srv.KVCheck = func(ctx context.Context) error { _, perr := mem.Ping(ctx); return perr }

	r := chi.NewRouter()
	r.Post("/v1/recommend", srv.RecommendHandler())
	r.Post("/v1/events", srv.EventHandler())
	r.Get("/v1/users/{id}/profile", srv.ProfileHandler())
	r.Get("/v1/products/{id}", srv.ProductHandler())
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Group(func(ops chi.Router) {
		ops.Use(srv.OpsGuard())
		ops.Post("/v1/ops/cache/invalidate/{userID}", srv.InvalidateUserHandler())
		ops.Post("/v1/ops/recovery", srv.RecoveryHandler())
		ops.Get("/v1/ops/status", srv.OpsStatusHandler())
	})
	return &testStack{router: r, server: srv, store: store, mem: mem, products: prods}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRecommendHandler(t *testing.T) {
	s := newStack(t, config.Config{})

	rec := doJSON(t, s.router, http.MethodPost, "/v1/recommend",
		`{"user_id":"U1","query":"show me headphones","context":{"turn_number":1,"market_id":"US"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.RecommendationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Recommendations, 5)
	assert.Equal(t, false, resp.Metadata["_cache_hit"])
	assert.NotEmpty(t, resp.Metadata["cache_key"])
}

func TestRecommendHandlerValidation(t *testing.T) {
	s := newStack(t, config.Config{})

	rec := doJSON(t, s.router, http.MethodPost, "/v1/recommend", `{"query":"no user"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")

	rec = doJSON(t, s.router, http.MethodPost, "/v1/recommend", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventHandler(t *testing.T) {
	s := newStack(t, config.Config{})

	rec := doJSON(t, s.router, http.MethodPost, "/v1/events",
		`{"user_id":"U1","event_type":"product_view","product_id":"P9"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var ack map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "buffered", ack["event_store_status"])
	assert.Equal(t, "ok", ack["engine_status"])
	assert.Equal(t, 1, s.store.Pending())
}

func TestEventHandlerRejectsUnknownType(t *testing.T) {
	s := newStack(t, config.Config{})

	rec := doJSON(t, s.router, http.MethodPost, "/v1/events",
		`{"user_id":"U1","event_type":"telepathy"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfileHandler(t *testing.T) {
	s := newStack(t, config.Config{})
	ctx := context.Background()

	doJSON(t, s.router, http.MethodPost, "/v1/events",
		`{"user_id":"U7","event_type":"purchase","product_id":"P1","amount":30000}`)
	require.NoError(t, s.store.Flush(ctx))

	rec := doJSON(t, s.router, http.MethodGet, "/v1/users/U7/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var p domain.UserProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "U7", p.UserID)
	assert.Equal(t, 1, p.TotalEvents)
	assert.Contains(t, p.RecentPurchases, "P1")
}

func TestProfileHandlerBadID(t *testing.T) {
	s := newStack(t, config.Config{})
	rec := doJSON(t, s.router, http.MethodGet, "/v1/users/"+strings.Repeat("x", 101)+"/profile", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductHandler(t *testing.T) {
	s := newStack(t, config.Config{})
	ctx := context.Background()

	raw, err := json.Marshal(domain.Product{ID: "P1", Title: "Wireless Headphones", Price: 120000, Currency: "COP", Available: true})
	require.NoError(t, err)
	require.NoError(t, s.mem.Set(ctx, "product:P1", raw, 0))
	require.NoError(t, s.mem.Set(ctx, "stock:P1", []byte("0"), 0))

	rec := doJSON(t, s.router, http.MethodGet, "/v1/products/P1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Product domain.Product `json:"product"`
		InStock bool           `json:"in_stock"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Wireless Headphones", body.Product.Title)
	assert.False(t, body.InStock, "a zero stock key reports out of stock")

	rec = doJSON(t, s.router, http.MethodGet, "/v1/products/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestHealthAndReadiness(t *testing.T) {
	s := newStack(t, config.Config{})

	rec := doJSON(t, s.router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status"`)

	rec = doJSON(t, s.router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpsGuard(t *testing.T) {
	hash, err := httpserver.HashPassword("opsecret", httpserver.Argon2Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32,
	})
	require.NoError(t, err)
	s := newStack(t, config.Config{OpsUsername: "ops", OpsPasswordHash: hash})

	rec := doJSON(t, s.router, http.MethodPost, "/v1/ops/cache/invalidate/U1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/ops/cache/invalidate/U1", nil)
	req.SetBasicAuth("ops", "opsecret")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"invalidated"`)

	req = httptest.NewRequest(http.MethodPost, "/v1/ops/cache/invalidate/U1", nil)
	req.SetBasicAuth("ops", "wrong")
	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestOpsRecoveryAndStatus(t *testing.T) {
	hash, err := httpserver.HashPassword("opsecret", httpserver.Argon2Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32,
	})
	require.NoError(t, err)
	s := newStack(t, config.Config{OpsUsername: "ops", OpsPasswordHash: hash})

	doJSON(t, s.router, http.MethodPost, "/v1/events",
		`{"user_id":"U1","event_type":"product_view","product_id":"P2"}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/ops/recovery", nil)
	req.SetBasicAuth("ops", "opsecret")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, s.store.Pending(), "recovery drains the live buffer")

	req = httptest.NewRequest(http.MethodGet, "/v1/ops/status", nil)
	req.SetBasicAuth("ops", "opsecret")
	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "diversity_cache")
	assert.Contains(t, rr.Body.String(), "event_store")
}
