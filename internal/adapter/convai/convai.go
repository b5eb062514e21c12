// Package convai implements the domain.ResponseGenerator port: turning a
// recommendation set into a short conversational reply. The default is a
// Noop; the HTTP generator posts a token-budgeted context to an external
// service.
package convai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/retail-reco/internal/domain"
)

// Noop generates nothing. Used when no generator endpoint is configured; the
// response simply omits ai_response.
type Noop struct{}

// Generate returns an empty reply.
func (Noop) Generate(context.Context, domain.GenerationInput) (string, error) { return "", nil }

// HTTP posts the generation context to an external conversational service.
type HTTP struct {
	baseURL     string
	model       string
	tokenBudget int
	httpClient  *http.Client

	enc *tiktoken.Tiktoken
}

// NewHTTP constructs an HTTP generator. tokenBudget caps the serialized
// prompt; recommendations are dropped from the tail until it fits.
func NewHTTP(baseURL, model string, tokenBudget int, timeout time.Duration) (*HTTP, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if tokenBudget <= 0 {
		tokenBudget = 1024
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("convai encoding: %w", err)
		}
	}
	return &HTTP{
		baseURL:     baseURL,
		model:       model,
		tokenBudget: tokenBudget,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		enc: enc,
	}, nil
}

type generateRequest struct {
	Model           string                  `json:"model"`
	UserID          string                  `json:"user_id"`
	Query           string                  `json:"query"`
	Intent          string                  `json:"intent,omitempty"`
	MarketID        string                  `json:"market_id,omitempty"`
	Recommendations []domain.Recommendation `json:"recommendations"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate posts the trimmed context and returns the generated reply.
func (h *HTTP) Generate(ctx context.Context, in domain.GenerationInput) (string, error) {
	payload := generateRequest{
		Model:           h.model,
		UserID:          in.UserID,
		Query:           in.Query,
		Intent:          in.Intent,
		MarketID:        in.MarketID,
		Recommendations: h.trimToBudget(in),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("convai marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("convai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("convai: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("convai status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("convai read: %w", err)
	}
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("convai decode: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

// trimToBudget drops recommendations from the tail until the serialized
// prompt fits the token budget. The query always survives; a context with
// zero recommendations is still a valid prompt.
func (h *HTTP) trimToBudget(in domain.GenerationInput) []domain.Recommendation {
	recs := in.Recommendations
	for len(recs) > 0 {
		if h.promptTokens(in, recs) <= h.tokenBudget {
			break
		}
		recs = recs[:len(recs)-1]
	}
	return recs
}

func (h *HTTP) promptTokens(in domain.GenerationInput, recs []domain.Recommendation) int {
	var sb strings.Builder
	sb.WriteString(in.Query)
	sb.WriteByte('\n')
	sb.WriteString(in.Intent)
	for _, r := range recs {
		sb.WriteByte('\n')
		sb.WriteString(r.Title)
		sb.WriteByte(' ')
		sb.WriteString(r.Description)
	}
	return len(h.enc.Encode(sb.String(), nil, nil))
}
