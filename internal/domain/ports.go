package domain

// Engine and adapter ports. Implementations live under internal/adapter and
// internal/service; the factory wires them together.

//go:generate mockery --name=ContentRecommender --with-expecter --filename=content_recommender_mock.go
//go:generate mockery --name=CollaborativeEngine --with-expecter --filename=collaborative_engine_mock.go
//go:generate mockery --name=ProductSource --with-expecter --filename=product_source_mock.go
//go:generate mockery --name=ResponseGenerator --with-expecter --filename=response_generator_mock.go

// ContentRecommender is the local similarity-over-catalog engine.
type ContentRecommender interface {
	// SimilarTo returns up to n candidates ranked by similarity to productID.
	SimilarTo(ctx Context, productID string, n int) ([]ScoredProduct, error)
	// Loaded reports whether the catalog model is ready to serve.
	Loaded() bool
}

// EngineEvent is the payload forwarded to the collaborative engine for
// online learning.
type EngineEvent struct {
	UserID    string    `json:"user_id"`
	Type      EventType `json:"event_type"`
	ProductID string    `json:"product_id,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
}

// CollaborativeEngine is the remote user/item recommender.
type CollaborativeEngine interface {
	Recommend(ctx Context, userID string, n int) ([]ScoredProduct, error)
	RecordEvent(ctx Context, ev EngineEvent) (map[string]any, error)
}

// ProductSource is the remote catalog. A miss is (nil, nil), never an error.
type ProductSource interface {
	Product(ctx Context, id string) (*Product, error)
	Products(ctx Context, ids []string) (map[string]*Product, error)
}

// GenerationInput is the context handed to a ResponseGenerator.
type GenerationInput struct {
	UserID          string
	Query           string
	Intent          string
	MarketID        string
	Recommendations []Recommendation
}

// ResponseGenerator turns a recommendation set into conversational text.
// A no-op generator returns "" and nil.
type ResponseGenerator interface {
	Generate(ctx Context, in GenerationInput) (string, error)
}

// InventoryService answers stock availability questions.
type InventoryService interface {
	InStock(ctx Context, productID string) (bool, error)
}

// EventSink mirrors persisted events to an external stream. Best-effort:
// callers never fail a flush on sink errors.
type EventSink interface {
	Publish(ctx Context, events []Event) error
	Close()
}
