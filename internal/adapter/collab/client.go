// Package collab is the HTTP client for the remote collaborative-filtering
// engine. Transient failures (connection errors, 5xx) retry with exponential
// backoff inside a short elapsed budget so a flapping engine slows a
// recommendation call, never hangs it.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/retail-reco/internal/domain"
)

const maxRetryElapsed = 2500 * time.Millisecond

// Client implements domain.CollaborativeEngine over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a client. timeout bounds each attempt; zero means 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type recommendRequest struct {
	UserID string `json:"user_id"`
	N      int    `json:"n"`
}

type recommendResponse struct {
	Recommendations []domain.ScoredProduct `json:"recommendations"`
}

// Recommend fetches up to n candidates for userID.
func (c *Client) Recommend(ctx context.Context, userID string, n int) ([]domain.ScoredProduct, error) {
	var out recommendResponse
	if err := c.post(ctx, "/v1/recommendations", recommendRequest{UserID: userID, N: n}, &out); err != nil {
		return nil, fmt.Errorf("collab recommend: %w", err)
	}
	return out.Recommendations, nil
}

// RecordEvent forwards an engine event and returns the engine's ack body.
func (c *Client) RecordEvent(ctx context.Context, ev domain.EngineEvent) (map[string]any, error) {
	var ack map[string]any
	if err := c.post(ctx, "/v1/events", ev, &ack); err != nil {
		return nil, fmt.Errorf("collab record event: %w", err)
	}
	return ack, nil
}

// post sends one JSON request with retries. 4xx responses are permanent; the
// caller sent a bad request and retrying cannot fix it.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxRetryElapsed
	op := func() error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if rerr != nil {
			return backoff.Permanent(rerr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, derr := c.httpClient.Do(req)
		if derr != nil {
			return derr
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("engine status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("engine status %d", resp.StatusCode))
		}
		raw, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return rerr
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		if uerr := json.Unmarshal(raw, out); uerr != nil {
			return backoff.Permanent(fmt.Errorf("decode: %w", uerr))
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteRecommender, err)
	}
	return nil
}
