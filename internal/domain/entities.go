package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrKVUnavailable     = errors.New("kv unavailable")
	ErrCircuitOpen       = errors.New("circuit open")
	ErrRemoteRecommender = errors.New("remote recommender failed")
	ErrCatalogMiss       = errors.New("catalog miss")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrTimeout           = errors.New("timeout")
	ErrInternal          = errors.New("internal error")
)

// EventType enumerates user event types
type EventType string

const (
	EventProductView        EventType = "product_view"
	EventProductSearch      EventType = "product_search"
	EventAddToCart          EventType = "add_to_cart"
	EventPurchase           EventType = "purchase"
	EventConversationIntent EventType = "conversation_intent"
	EventGeneric            EventType = "generic"
)

// Event is an append-only user activity record.
// Invariants: ID globally unique; Timestamp never in the future.
type Event struct {
	ID        string         `json:"event_id"`
	UserID    string         `json:"user_id"`
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	MarketID  string         `json:"market_id,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type ActivityLevel string

const (
	ActivityNew    ActivityLevel = "new"
	ActivityLow    ActivityLevel = "low"
	ActivityMedium ActivityLevel = "medium"
	ActivityHigh   ActivityLevel = "high"
)

// UserProfile is materialized lazily from the event log.
// Invariant: TotalEvents >= len(RecentIntents|RecentSearches|RecentPurchases);
// CategoryAffinity values sum to 1 over observed categories.
type UserProfile struct {
	UserID           string             `json:"user_id"`
	TotalEvents      int                `json:"total_events"`
	FirstActivity    time.Time          `json:"first_activity"`
	LastActivity     time.Time          `json:"last_activity"`
	RecentIntents    []string           `json:"recent_intents,omitempty"`
	CategoryAffinity map[string]float64 `json:"category_affinity,omitempty"`
	RecentSearches   []string           `json:"recent_searches,omitempty"`
	SessionCount     int                `json:"session_count"`
	MarketCounts     map[string]int     `json:"market_counts,omitempty"`
	RecentPurchases  []string           `json:"recent_purchases,omitempty"`
	DaysActive       int                `json:"days_active"`
	ActivityLevel    ActivityLevel      `json:"activity_level"`
	GeneratedAt      time.Time          `json:"generated_at"`
	Fallback         string             `json:"fallback,omitempty"`
}

// Product is a short-lived copy of a catalog record. The remote catalog owns it.
type Product struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Price       float64        `json:"price"`
	Currency    string         `json:"currency,omitempty"`
	Category    string         `json:"category,omitempty"`
	Brand       string         `json:"brand,omitempty"`
	ImageURLs   []string       `json:"image_urls,omitempty"`
	MarketID    string         `json:"market_id,omitempty"`
	Available   bool           `json:"available"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Minimal     bool           `json:"_minimal,omitempty"`
}

// ScoredProduct is a raw engine candidate before enrichment.
type ScoredProduct struct {
	ProductID string  `json:"product_id"`
	Score     float64 `json:"score"`
}

// Recommendation is an enriched, scored product in a response.
type Recommendation struct {
	ProductID      string  `json:"product_id"`
	Score          float64 `json:"score"`
	Source         string  `json:"source,omitempty"`
	Title          string  `json:"title,omitempty"`
	Description    string  `json:"description,omitempty"`
	Price          float64 `json:"price,omitempty"`
	Currency       string  `json:"currency,omitempty"`
	Category       string  `json:"category,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
	IncompleteData bool    `json:"_incomplete_data,omitempty"`
}

// Recommendation source tags
const (
	SourceContent           = "content"
	SourceCollaborative     = "collaborative"
	SourceHybrid            = "hybrid"
	SourceFallbackDiverse   = "fallback_diverse_category"
	SourceFallbackPopular   = "fallback_popular"
	SourceFallbackCatalog   = "fallback_catalog"
	SourceFallbackEmergency = "fallback_emergency"
)

// QueryContext carries the conversational state of a recommend call.
type QueryContext struct {
	TurnNumber      int      `json:"turn_number"`
	ShownProducts   []string `json:"shown_products,omitempty"`
	MarketID        string   `json:"market_id,omitempty"`
	EngagementScore float64  `json:"engagement_score,omitempty"`
	SessionID       string   `json:"session_id,omitempty"`
}

// RecommendationResponse is the orchestrator's consumer-facing result.
// Metadata carries cache tags (_cache_hit, cache_key, latency) and degradation
// flags (error_fallback).
type RecommendationResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
	AIResponse      string           `json:"ai_response,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

// Context is an alias to allow decoupling from std context in domain
// Adapters and services should pass context.Context through.

type Context = context.Context
