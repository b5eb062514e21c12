package catalog_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/retail-reco/internal/adapter/catalog"
)

func TestClientProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/products/p1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"p1","title":"Phone","price":999000,"available":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := catalog.NewClient(srv.URL, "secret", 2*time.Second)

	p, err := c.Product(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Phone", p.Title)

	missing, err := c.Product(context.Background(), "ghost")
	require.NoError(t, err, "a 404 is a miss, not an error")
	assert.Nil(t, missing)
}

func TestClientProductsBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "p1,p2", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"products":[{"id":"p1","title":"Phone"}]}`))
	}))
	defer srv.Close()

	c := catalog.NewClient(srv.URL, "", 2*time.Second)
	got, err := c.Products(context.Background(), []string{"p1", "p2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Phone", got["p1"].Title)
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := catalog.NewClient(srv.URL, "", 2*time.Second)
	_, err := c.Product(context.Background(), "p1")
	assert.Error(t, err)
}
