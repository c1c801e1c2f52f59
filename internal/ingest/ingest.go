// Package ingest adapts external span feeds to the live session. Each
// source pushes TraceSpan batches into a SpanSink; delivery may be out
// of order and duplicated, and the sink is expected to dedup.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

// SpanSink receives span batches from a source. Implementations must be
// safe for concurrent use; sources run on their own goroutines.
type SpanSink interface {
	Ingest(source string, batch []model.TraceSpan) int
}

// DecodeSpanPayload parses one stream message. The push channel is
// loose about shape: a single span object, a bare array, or an
// envelope with a "spans" key all occur.
func DecodeSpanPayload(data []byte) ([]model.TraceSpan, error) {
	var envelope struct {
		Spans []model.TraceSpan `json:"spans"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Spans) > 0 {
		return envelope.Spans, nil
	}

	var batch []model.TraceSpan
	if err := json.Unmarshal(data, &batch); err == nil {
		return batch, nil
	}

	var single model.TraceSpan
	if err := json.Unmarshal(data, &single); err == nil && single.SpanID != "" {
		return []model.TraceSpan{single}, nil
	}

	return nil, fmt.Errorf("unrecognized span payload (%d bytes)", len(data))
}
