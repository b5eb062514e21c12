package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fairyhunter13/retail-reco/internal/domain"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
		wantStr  string
	}{
		{fmt.Errorf("bad: %w", domain.ErrInvalidArgument), http.StatusBadRequest, "INVALID_ARGUMENT"},
		{fmt.Errorf("ev: %w", domain.ErrSchemaInvalid), http.StatusUnprocessableEntity, "SCHEMA_INVALID"},
		{fmt.Errorf("p: %w", domain.ErrCatalogMiss), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("cb: %w", domain.ErrCircuitOpen), http.StatusServiceUnavailable, "CIRCUIT_OPEN"},
		{fmt.Errorf("kv: %w", domain.ErrKVUnavailable), http.StatusServiceUnavailable, "KV_UNAVAILABLE"},
		{fmt.Errorf("cf: %w", domain.ErrRemoteRecommender), http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{fmt.Errorf("slow: %w", domain.ErrTimeout), http.StatusGatewayTimeout, "TIMEOUT"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), c.err, nil)
		if rec.Code != c.wantCode {
			t.Fatalf("%v: status %d, want %d", c.err, rec.Code, c.wantCode)
		}
		var env errorEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Error.Code != c.wantStr {
			t.Fatalf("%v: code %s, want %s", c.err, env.Error.Code, c.wantStr)
		}
	}
}
