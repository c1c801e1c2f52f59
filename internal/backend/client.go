// Package backend is the HTTP client for the inference platform
// backend: trace listing/detail, pipeline CRUD and execution, guardrail
// probes, and the generic resource surfaces. The backend is treated as
// an opaque JSON-over-HTTP collaborator; only the field contracts the
// console reads are typed.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Client talks to the platform backend. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	mtr        *metrics.Metrics // optional
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets a bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records request latency and failures per operation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.mtr = m }
}

// New creates a backend client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// do issues one request and decodes the JSON response into out (skipped
// when out is nil). op labels the request for metrics.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.mtr != nil {
		c.mtr.BackendLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.countFailure(op)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.countFailure(op)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: backend returned %s: %s", op, resp.Status, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.countFailure(op)
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) countFailure(op string) {
	if c.mtr != nil {
		c.mtr.BackendFailures.WithLabelValues(op).Inc()
	}
}
