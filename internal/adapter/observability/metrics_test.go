package observability

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

var initOnce sync.Once

func mustInit(t *testing.T) {
	t.Helper()
	initOnce.Do(InitMetrics)
}

func TestInitMetricsAndHelpers(t *testing.T) {
	mustInit(t)

	// helpers must not panic and must accept all label values used in the codebase
	CacheHit(2 * time.Millisecond)
	CacheMiss(5 * time.Millisecond)
	for _, tier := range []string{"kv", "local", "remote", "minimal", "miss"} {
		ProductTierHit(tier)
	}
	ObserveRecommendation("hybrid", 40*time.Millisecond, 5)
	ObserveRecommendation("fallback_emergency", time.Millisecond, 1)
	for _, outcome := range []string{"buffered", "stored", "failed", "journaled", "recovered"} {
		EventOutcome(outcome, 3)
	}
	EventFlushDuration.Observe(0.01)
	EventBufferSize.WithLabelValues("pending").Set(12)
	SetBreakerState("event-write", 1)
	SetKVHealthy(true)
	SetKVHealthy(false)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	mustInit(t)

	r := chi.NewRouter()
	r.Use(HTTPMetricsMiddleware)
	r.Post("/v1/recommend", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/recommend", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
