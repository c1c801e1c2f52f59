package backend

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

// expandConcurrency caps the parallel trace-detail fetches an
// expand-all issues at once.
const expandConcurrency = 8

type traceListResponse struct {
	Traces []model.TraceSpan `json:"traces"`
}

type traceDetailResponse struct {
	TraceID string            `json:"trace_id"`
	Spans   []model.TraceSpan `json:"spans"`
}

// ListTraces fetches root-level trace spans recorded for a prompt.
func (c *Client) ListTraces(ctx context.Context, prompt string) ([]model.TraceSpan, error) {
	var resp traceListResponse
	path := fmt.Sprintf("/prompts/%s/traces", url.PathEscape(prompt))
	if err := c.do(ctx, "list_traces", "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Traces, nil
}

// GetTrace fetches the full span set of one trace.
func (c *Client) GetTrace(ctx context.Context, prompt, traceID string) ([]model.TraceSpan, error) {
	var resp traceDetailResponse
	path := fmt.Sprintf("/prompts/%s/traces/%s", url.PathEscape(prompt), url.PathEscape(traceID))
	if err := c.do(ctx, "get_trace", "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Spans, nil
}

// ExpandAll fetches the details of many traces in parallel and merges
// the results by span_id, last write wins. A single failed detail fetch
// fails the whole expansion; the caller degrades to its previous state.
func (c *Client) ExpandAll(ctx context.Context, prompt string, traceIDs []string) ([]model.TraceSpan, error) {
	if len(traceIDs) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	merged := make(map[string]model.TraceSpan)
	var order []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(expandConcurrency)

	for _, traceID := range traceIDs {
		g.Go(func() error {
			spans, err := c.GetTrace(gctx, prompt, traceID)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, span := range spans {
				if _, seen := merged[span.SpanID]; !seen {
					order = append(order, span.SpanID)
				}
				merged[span.SpanID] = span
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.TraceSpan, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out, nil
}
