// Package catalog provides the three catalog sources: the remote catalog
// HTTP client, the Postgres catalog repository and the feed file loader.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/retail-reco/internal/domain"
)

// Client implements domain.ProductSource against the remote catalog API.
// A 404 is a miss, (nil, nil), never an error.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a remote catalog client. timeout zero means 10s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Product fetches one product by id.
func (c *Client) Product(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	found, err := c.get(ctx, "/v1/products/"+url.PathEscape(id), &p)
	if err != nil {
		return nil, fmt.Errorf("catalog product %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// Products fetches a batch by id. Missing ids are absent from the result map.
func (c *Client) Products(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	if len(ids) == 0 {
		return map[string]*domain.Product{}, nil
	}
	var out struct {
		Products []domain.Product `json:"products"`
	}
	found, err := c.get(ctx, "/v1/products?ids="+url.QueryEscape(strings.Join(ids, ",")), &out)
	if err != nil {
		return nil, fmt.Errorf("catalog batch: %w", err)
	}
	result := make(map[string]*domain.Product, len(out.Products))
	if !found {
		return result, nil
	}
	for i := range out.Products {
		p := out.Products[i]
		result[p.ID] = &p
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("catalog status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode: %w", err)
	}
	return true, nil
}
