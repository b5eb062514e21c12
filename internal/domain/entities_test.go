package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEventTypeConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant EventType
		expected string
	}{
		{"EventProductView", EventProductView, "product_view"},
		{"EventProductSearch", EventProductSearch, "product_search"},
		{"EventAddToCart", EventAddToCart, "add_to_cart"},
		{"EventPurchase", EventPurchase, "purchase"},
		{"EventConversationIntent", EventConversationIntent, "conversation_intent"},
		{"EventGeneric", EventGeneric, "generic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, string(tt.constant))
			}
		})
	}
}

func TestActivityLevelConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant ActivityLevel
		expected string
	}{
		{"ActivityNew", ActivityNew, "new"},
		{"ActivityLow", ActivityLow, "low"},
		{"ActivityMedium", ActivityMedium, "medium"},
		{"ActivityHigh", ActivityHigh, "high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, string(tt.constant))
			}
		})
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidArgument,
		ErrKVUnavailable,
		ErrCircuitOpen,
		ErrRemoteRecommender,
		ErrSchemaInvalid,
		ErrInternal,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %v unexpectedly matches %v", a, b)
			}
		}
	}
}

func TestSentinelWrapping(t *testing.T) {
	err := fmt.Errorf("kv get: %w", ErrKVUnavailable)
	if !errors.Is(err, ErrKVUnavailable) {
		t.Errorf("Expected wrapped error to match ErrKVUnavailable, got %v", err)
	}
	if errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected wrapped error not to match ErrCircuitOpen")
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	ev := Event{
		ID:        "01JABCDEF",
		UserID:    "u-1",
		Type:      EventProductView,
		Timestamp: now,
		SessionID: "s-1",
		MarketID:  "US",
		Data:      map[string]any{"product_id": "P1", "category": "audio"},
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Event
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != ev.ID || got.UserID != ev.UserID || got.Type != ev.Type {
		t.Errorf("Expected identity fields to round-trip, got %+v", got)
	}
	if !got.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("Expected timestamp %v, got %v", ev.Timestamp, got.Timestamp)
	}
	if got.Data["product_id"] != "P1" {
		t.Errorf("Expected data.product_id to be P1, got %v", got.Data["product_id"])
	}
}

func TestMinimalProductFlagOmittedWhenFalse(t *testing.T) {
	raw, err := json.Marshal(Product{ID: "P1", Title: "Product P1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["_minimal"]; ok {
		t.Errorf("Expected _minimal to be omitted for a full record, got %v", m["_minimal"])
	}

	raw, err = json.Marshal(Product{ID: "P2", Title: "Product P2", Minimal: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m = map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["_minimal"] != true {
		t.Errorf("Expected _minimal=true to survive serialization, got %v", m["_minimal"])
	}
}
