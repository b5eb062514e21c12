// Package httpserver contains the HTTP surface of the recommendation
// service: validated JSON handlers over the orchestrator, the ops endpoint
// guard, and the shared middleware stack.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/retail-reco/internal/config"
	"github.com/fairyhunter13/retail-reco/internal/domain"
	"github.com/fairyhunter13/retail-reco/internal/service/events"
	"github.com/fairyhunter13/retail-reco/internal/service/products"
	"github.com/fairyhunter13/retail-reco/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	cfg       config.Config
	orch      *usecase.Orchestrator
	products  *products.Cache
	events    *events.Store
	inventory domain.InventoryService

	// Readiness probes; nil checks are skipped.
	KVCheck      func(ctx context.Context) error
	ContentCheck func(ctx context.Context) error
	EventsCheck  func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, orch *usecase.Orchestrator, productCache *products.Cache, eventStore *events.Store, inventory domain.InventoryService) *Server {
	return &Server{
		cfg:       cfg,
		orch:      orch,
		products:  productCache,
		events:    eventStore,
		inventory: inventory,
	}
}

// acceptsJSON rejects callers that explicitly ask for a non-JSON response.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code:    "INVALID_ARGUMENT",
		Message: "not acceptable",
		Details: map[string]any{"accept": a},
	}})
	return false
}

type recommendRequest struct {
	UserID  string              `json:"user_id" validate:"required,max=100"`
	Query   string              `json:"query" validate:"required,max=500"`
	Context domain.QueryContext `json:"context"`
}

// RecommendHandler serves one conversation turn. The orchestrator never
// fails; malformed input is the only error path here.
func (s *Server) RecommendHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req recommendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if verrs := validateStruct(req); verrs != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		req.Query = SanitizeString(req.Query)

		resp := s.orch.Recommend(r.Context(), req.UserID, req.Query, req.Context)
		writeJSON(w, http.StatusOK, resp)
	}
}

type eventRequest struct {
	UserID    string  `json:"user_id" validate:"required,max=100"`
	EventType string  `json:"event_type" validate:"required,oneof=product_view product_search add_to_cart purchase conversation_intent generic"`
	ProductID string  `json:"product_id" validate:"omitempty,max=100"`
	Amount    float64 `json:"amount" validate:"omitempty,gte=0"`
	SessionID string  `json:"session_id" validate:"omitempty,max=100"`
	MarketID  string  `json:"market_id" validate:"omitempty,max=10"`
}

// EventHandler records a user activity event. The ack reports per-backend
// outcomes; buffering is asynchronous so the status is 202.
func (s *Server) EventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if verrs := validateStruct(req); verrs != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}

		ack := s.orch.RecordEvent(r.Context(), req.UserID, domain.EventType(req.EventType),
			req.ProductID, req.Amount, req.SessionID, req.MarketID)
		writeJSON(w, http.StatusAccepted, ack)
	}
}

// ProfileHandler returns the materialized profile for a user. The store
// degrades to an empty profile rather than failing, so a valid id always
// yields 200.
func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if verrs := ValidateID("id", id); verrs != nil {
			writeError(w, r, fmt.Errorf("%w: invalid user id", domain.ErrInvalidArgument), verrs)
			return
		}
		profile, err := s.orch.Profile(r.Context(), id)
		if err != nil {
			writeError(w, r, fmt.Errorf("profile: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

// ProductHandler returns one enriched catalog record plus its live stock
// signal. An id unknown to both catalog tiers is 404.
func (s *Server) ProductHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if verrs := ValidateID("id", id); verrs != nil {
			writeError(w, r, fmt.Errorf("%w: invalid product id", domain.ErrInvalidArgument), verrs)
			return
		}
		p, err := s.products.Get(r.Context(), id, r.URL.Query().Get("market_id"))
		if err != nil {
			writeError(w, r, fmt.Errorf("product lookup: %w", err), nil)
			return
		}
		if p == nil {
			writeError(w, r, fmt.Errorf("%w: product %s", domain.ErrCatalogMiss, id), nil)
			return
		}
		inStock := true
		if s.inventory != nil {
			// Stock lookup failures report available rather than hiding the product.
			if ok, ierr := s.inventory.InStock(r.Context(), id); ierr == nil {
				inStock = ok
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": p, "in_stock": inStock})
	}
}

// HealthzHandler reports aggregate component health; an unhealthy aggregate
// is 503 so orchestration platforms can act on it.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := s.orch.HealthCheck(r.Context())
		st := http.StatusOK
		if h["status"] == "unhealthy" {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, h)
	}
}

// ReadyzHandler probes the serving dependencies with a short budget.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	probes := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"kv", s.KVCheck},
		{"content", s.ContentCheck},
		{"event_store", s.EventsCheck},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(probes))
		ok := true
		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			if err := p.fn(ctx); err != nil {
				checks = append(checks, check{Name: p.name, OK: false, Details: err.Error()})
				ok = false
			} else {
				checks = append(checks, check{Name: p.name, OK: true})
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// InvalidateUserHandler drops a user's cached responses (ops).
func (s *Server) InvalidateUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "userID")
		if verrs := ValidateID("userID", id); verrs != nil {
			writeError(w, r, fmt.Errorf("%w: invalid user id", domain.ErrInvalidArgument), verrs)
			return
		}
		n, err := s.orch.InvalidateUser(r.Context(), id)
		if err != nil {
			writeError(w, r, fmt.Errorf("invalidate: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "invalidated": n})
	}
}

type warmupRequest struct {
	Markets []string `json:"markets" validate:"omitempty,max=50,dive,max=10"`
	Budget  int      `json:"budget" validate:"omitempty,min=1,max=10000"`
}

// WarmupHandler triggers a synchronous product-cache warm-up (ops). Body
// fields default to the configured warm-up plan.
func (s *Server) WarmupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req warmupRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
			if verrs := validateStruct(req); verrs != nil {
				writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
				return
			}
		}
		if len(req.Markets) == 0 {
			req.Markets = s.cfg.WarmupMarkets
		}
		if req.Budget <= 0 {
			req.Budget = s.cfg.WarmupBudget
		}
		warmed := s.products.Warmup(r.Context(), req.Markets, req.Budget)
		writeJSON(w, http.StatusOK, map[string]any{"warmed": warmed, "budget": req.Budget})
	}
}

// RecoveryHandler forces one event-store recovery pass: flush the live
// buffer, then replay the failed buffer and journal (ops).
func (s *Server) RecoveryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.events.Flush(r.Context()); err != nil {
			writeError(w, r, fmt.Errorf("flush: %w", err), nil)
			return
		}
		s.events.RecoverOnce(r.Context())
		writeJSON(w, http.StatusOK, s.events.Stats())
	}
}

// OpsStatusHandler exposes the component metric maps (ops).
func (s *Server) OpsStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.orch.Metrics())
	}
}
