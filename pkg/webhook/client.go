// Package webhook posts ranking summaries to tenant-configured
// integration endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/worksafe/risk-engine/internal/resilience"
)

// Summary is one subject's published ranking.
type Summary struct {
	ExternalKey string `json:"external_key"`
	EntityID    string `json:"entity_id"`
	RiskLevel   string `json:"risk_level"`
}

type payload struct {
	Summaries []Summary `json:"summaries"`
}

// Client posts summary batches to an endpoint URL.
type Client interface {
	PostSummaries(ctx context.Context, url string, summaries []Summary) error
}

// Option configures the webhook client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	http *http.Client
}

// NewClient creates a webhook client. Endpoints are per-call because each
// tenant configures its own URL.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		http: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) PostSummaries(ctx context.Context, url string, summaries []Summary) error {
	if len(summaries) == 0 {
		return nil
	}

	body, err := json.Marshal(payload{Summaries: summaries})
	if err != nil {
		return eris.Wrap(err, "webhook: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "webhook: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "webhook: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	wrapped := eris.Errorf("webhook: status %d: %s", resp.StatusCode, string(respBody))
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(wrapped, resp.StatusCode)
	}
	return wrapped
}
