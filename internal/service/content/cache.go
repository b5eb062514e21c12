package content

import (
	"fmt"
	"sync"

	"github.com/fairyhunter13/retail-reco/internal/domain"
)

// neighborCache memoizes SimilarTo results by (product, n). It is safe for
// concurrent use. Simple FIFO eviction; a Load purges everything because the
// vectors it was computed from are gone.
type neighborCache struct {
	mu       sync.RWMutex
	capacity int
	m        map[string][]domain.ScoredProduct
	ord      []string
}

func newNeighborCache(capacity int) *neighborCache {
	return &neighborCache{
		capacity: capacity,
		m:        make(map[string][]domain.ScoredProduct),
		ord:      make([]string, 0, capacity),
	}
}

func cacheKey(productID string, n int) string {
	return fmt.Sprintf("%s:%d", productID, n)
}

func (c *neighborCache) get(productID string, n int) ([]domain.ScoredProduct, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[cacheKey(productID, n)]
	return v, ok
}

func (c *neighborCache) put(productID string, n int, v []domain.ScoredProduct) {
	k := cacheKey(productID, n)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[k]; exists {
		c.m[k] = v
		return
	}
	if len(c.ord) >= c.capacity {
		oldest := c.ord[0]
		c.ord = c.ord[1:]
		delete(c.m, oldest)
	}
	c.m[k] = v
	c.ord = append(c.ord, k)
}

func (c *neighborCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string][]domain.ScoredProduct)
	c.ord = c.ord[:0]
}
