package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

func TestListTraces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prompts/chat-v2/traces", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"traces": []map[string]any{
				{"span_id": "a", "trace_id": "t1", "span_name": "root", "service_name": "gw", "timestamp": 1000, "duration": 5000},
			},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithToken("sekrit"))
	require.NoError(t, err)

	spans, err := c.ListTraces(context.Background(), "chat-v2")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "a", spans[0].SpanID)
	assert.Equal(t, int64(5000), spans[0].DurationNanos())
	assert.Equal(t, float64(1000), spans[0].Timestamp.Millis())
}

func TestGetTraceBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "trace not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.GetTrace(context.Background(), "chat-v2", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "trace not found")
}

func TestExpandAllMergesBySpanID(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Both traces report a shared span id; the merge keeps one copy.
		json.NewEncoder(w).Encode(map[string]any{
			"trace_id": "x",
			"spans": []map[string]any{
				{"span_id": "shared", "trace_id": "x", "timestamp": 1},
				{"span_id": "own-" + r.URL.Path[len(r.URL.Path)-2:], "trace_id": "x", "timestamp": 2},
			},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	spans, err := c.ExpandAll(context.Background(), "p", []string{"t1", "t2"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	ids := make(map[string]int)
	for _, s := range spans {
		ids[s.SpanID]++
	}
	assert.Equal(t, 1, ids["shared"], "shared span_id should merge to one copy")
	assert.Len(t, spans, 3)
}

func TestExpandAllPropagatesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/prompts/p/traces/bad" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"spans": []any{}})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.ExpandAll(context.Background(), "p", []string{"ok", "bad"})
	require.Error(t, err)
}

func TestExecutePipeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/pipelines/deploy/execute", r.URL.Path)

		var body struct {
			Pipeline model.Pipeline `json:"pipeline"`
			Params   map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Pipeline.Steps, 1)
		assert.Equal(t, float64(3), body.Params["replicas"])

		json.NewEncoder(w).Encode(model.PipelineRun{
			RunID:    "run-1",
			Pipeline: "deploy",
			Status:   "running",
			Steps:    []model.StepRunStatus{{StepID: "s1", Status: "pending"}},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	p := &model.Pipeline{Name: "deploy", Steps: []model.PipelineStep{{ID: "s1", Action: "a"}}}
	run, err := c.ExecutePipeline(context.Background(), p, map[string]any{"replicas": 3})
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, "pending", run.Steps[0].Status)
}

func TestResourceCRUD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": "c1", "name": "gpu-east", "status": "ready", "node_count": 4},
				},
			})
		case http.MethodPost:
			var res model.Resource
			require.NoError(t, json.NewDecoder(r.Body).Decode(&res))
			res.ID = "c2"
			json.NewEncoder(w).Encode(res)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	items, err := c.ListResources(context.Background(), model.KindCluster)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "gpu-east", items[0].Name)
	// Untyped backend fields survive in Extra.
	assert.Equal(t, float64(4), items[0].Extra["node_count"])

	created, err := c.CreateResource(context.Background(), model.KindCluster, &model.Resource{Name: "gpu-west"})
	require.NoError(t, err)
	assert.Equal(t, "c2", created.ID)

	_, err = c.ListResources(context.Background(), model.ResourceKind("nope"))
	require.Error(t, err)
}

func TestFetchGuardStaleTokens(t *testing.T) {
	var g FetchGuard

	ctx1, tok1 := g.Begin(context.Background())
	assert.True(t, g.Keep(tok1))

	// A newer fetch supersedes and cancels the first.
	_, tok2 := g.Begin(context.Background())
	assert.False(t, g.Keep(tok1), "superseded token must be stale")
	assert.True(t, g.Keep(tok2))

	select {
	case <-ctx1.Done():
	default:
		t.Error("superseded context should be cancelled")
	}

	g.Stop()
	assert.False(t, g.Keep(tok2), "Stop invalidates the current token")
}
