package content_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/retail-reco/internal/domain"
	"github.com/fairyhunter13/retail-reco/internal/service/content"
)

func sampleCatalog() []domain.Product {
	return []domain.Product{
		{ID: "p1", Title: "Wireless Headphones", Description: "bluetooth over-ear headphones", Category: "electronics"},
		{ID: "p2", Title: "Wired Headphones", Description: "studio over-ear headphones", Category: "electronics"},
		{ID: "p3", Title: "Running Shoes", Description: "lightweight trail running shoes", Category: "shoes"},
		{ID: "p4", Title: "Trail Boots", Description: "waterproof hiking boots", Category: "shoes"},
		{ID: "p5", Title: "Ceramic Mug", Description: "stoneware coffee mug", Category: "home"},
	}
}

func TestEngineLoadedAndSize(t *testing.T) {
	e := content.New()
	assert.False(t, e.Loaded())
	e.Load(sampleCatalog())
	assert.True(t, e.Loaded())
	assert.Equal(t, 5, e.Size())
}

func TestSimilarToRanksSameCategoryFirst(t *testing.T) {
	e := content.New()
	e.Load(sampleCatalog())

	got, err := e.SimilarTo(context.Background(), "p1", 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "p2", got[0].ProductID, "the other headphones should be the nearest neighbor")
	for _, sp := range got {
		assert.NotEqual(t, "p1", sp.ProductID, "a product is never similar to itself")
		assert.Greater(t, sp.Score, 0.0)
	}
}

func TestSimilarToUnknownProduct(t *testing.T) {
	e := content.New()
	e.Load(sampleCatalog())
	_, err := e.SimilarTo(context.Background(), "missing", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCatalogMiss))
}

func TestSimilarToUnloadedEngine(t *testing.T) {
	e := content.New()
	_, err := e.SimilarTo(context.Background(), "p1", 3)
	assert.True(t, errors.Is(err, domain.ErrCatalogMiss))
}

func TestSimilarToIsDeterministic(t *testing.T) {
	e := content.New()
	e.Load(sampleCatalog())
	a, err := e.SimilarTo(context.Background(), "p3", 4)
	require.NoError(t, err)
	b, err := e.SimilarTo(context.Background(), "p3", 4)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCategoriesSortedDistinct(t *testing.T) {
	e := content.New()
	e.Load(sampleCatalog())
	assert.Equal(t, []string{"electronics", "home", "shoes"}, e.Categories())
}

func TestAllPreservesLoadOrder(t *testing.T) {
	e := content.New()
	e.Load(sampleCatalog())
	all := e.All()
	require.Len(t, all, 5)
	assert.Equal(t, "p1", all[0].ID)
	assert.Equal(t, "p5", all[4].ID)
}

func TestProductCopyIsIsolated(t *testing.T) {
	e := content.New()
	e.Load(sampleCatalog())
	p := e.Product("p1")
	require.NotNil(t, p)
	p.Title = "mutated"
	assert.Equal(t, "Wireless Headphones", e.Product("p1").Title)
	assert.Nil(t, e.Product("nope"))
}

func TestLoadReplacesModel(t *testing.T) {
	e := content.New()
	e.Load(sampleCatalog())
	_, err := e.SimilarTo(context.Background(), "p1", 2)
	require.NoError(t, err)

	e.Load([]domain.Product{
		{ID: "q1", Title: "Novel", Category: "books"},
		{ID: "q2", Title: "Bestseller Novel", Category: "books"},
	})
	assert.Equal(t, 2, e.Size())
	_, err = e.SimilarTo(context.Background(), "p1", 2)
	assert.True(t, errors.Is(err, domain.ErrCatalogMiss), "old products are gone after a reload")
	got, err := e.SimilarTo(context.Background(), "q1", 2)
	require.NoError(t, err)
	assert.Equal(t, "q2", got[0].ProductID)
}
