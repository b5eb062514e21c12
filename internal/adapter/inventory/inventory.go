// Package inventory implements the domain.InventoryService port.
//
// The default is optimistic: everything is in stock, so recommendations are
// never filtered by an unavailable inventory system. The KV variant reads
// stock flags written by an external fulfillment pipeline.
package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/fairyhunter13/retail-reco/internal/adapter/kv"
)

// Optimistic reports every product as in stock.
type Optimistic struct{}

// InStock always returns true.
func (Optimistic) InStock(context.Context, string) (bool, error) { return true, nil }

// KVStock reads `stock:<id>` flags from the KV store. An absent key means in
// stock (the pipeline only writes explicit out-of-stock markers).
type KVStock struct {
	store kv.Store
}

// NewKVStock constructs a KV-backed inventory reader.
func NewKVStock(store kv.Store) *KVStock { return &KVStock{store: store} }

// InStock reports stock for one product id.
func (s *KVStock) InStock(ctx context.Context, productID string) (bool, error) {
	raw, err := s.store.Get(ctx, "stock:"+productID)
	if err != nil {
		return false, fmt.Errorf("inventory %s: %w", productID, err)
	}
	if raw == nil {
		return true, nil
	}
	switch strings.ToLower(string(raw)) {
	case "0", "false", "out":
		return false, nil
	default:
		return true, nil
	}
}
