// Package console is the gateway's serving surface: the JSON API the
// console front end consumes, the live WebSocket feed, and the
// Prometheus endpoint. Handlers fail soft: a backend error degrades the
// one response, never the process.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/backend"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/live"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/metrics"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/pipeline"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/tracetree"
)

// Server wires the live session, backend client, and pipeline drafts
// into an HTTP API.
type Server struct {
	session *live.Session
	backend *backend.Client
	drafts  *pipeline.DraftStore
	mtr     *metrics.Metrics // optional

	// Latest-fetch-wins guard plus cache for the trace detail view.
	detailGuard backend.FetchGuard
	detailMu    sync.RWMutex
	detail      *detailView
}

// detailView is the most recently applied trace-detail fetch.
type detailView struct {
	Prompt  string            `json:"prompt"`
	TraceID string            `json:"trace_id"`
	Forest  []*model.LogEntry `json:"forest"`
}

// New creates a console server.
func New(session *live.Session, bc *backend.Client, drafts *pipeline.DraftStore, mtr *metrics.Metrics) *Server {
	return &Server{
		session: session,
		backend: bc,
		drafts:  drafts,
		mtr:     mtr,
	}
}

// RegisterRoutes attaches all console routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/prompts/{prompt}/traces", s.handleListTraces)
	mux.HandleFunc("GET /api/prompts/{prompt}/traces/{traceID}", s.handleTraceDetail)
	mux.HandleFunc("GET /api/prompts/{prompt}/traces/{traceID}/waterfall", s.handleTraceWaterfall)
	mux.HandleFunc("POST /api/prompts/{prompt}/traces/expand", s.handleExpandAll)

	mux.HandleFunc("GET /api/live", s.handleLiveEntries)
	mux.HandleFunc("POST /api/live/mode", s.handleLiveMode)
	mux.HandleFunc("POST /api/live/view", s.handleLiveView)
	mux.HandleFunc("POST /api/live/range", s.handleLiveRange)
	mux.HandleFunc("GET /api/live/chart", s.handleLiveChart)

	mux.HandleFunc("GET /api/pipelines", s.handleListPipelines)
	mux.HandleFunc("GET /api/pipelines/{name}/runs/{runID}", s.handleGetRun)

	mux.HandleFunc("GET /api/drafts", s.handleListDrafts)
	mux.HandleFunc("GET /api/drafts/{name}", s.handleGetDraft)
	mux.HandleFunc("PUT /api/drafts/{name}", s.handlePutDraft)
	mux.HandleFunc("DELETE /api/drafts/{name}", s.handleDeleteDraft)
	mux.HandleFunc("GET /api/drafts/{name}/yaml", s.handleDraftYAML)
	mux.HandleFunc("POST /api/drafts/import", s.handleImportDraft)
	mux.HandleFunc("POST /api/drafts/{name}/steps", s.handleAddStep)
	mux.HandleFunc("PATCH /api/drafts/{name}/steps/{stepID}", s.handleUpdateStep)
	mux.HandleFunc("DELETE /api/drafts/{name}/steps/{stepID}", s.handleDeleteStep)
	mux.HandleFunc("POST /api/drafts/{name}/execute", s.handleExecuteDraft)

	mux.HandleFunc("GET /api/resources/{kind}", s.handleListResources)
	mux.HandleFunc("POST /api/resources/{kind}", s.handleCreateResource)
	mux.HandleFunc("GET /api/resources/{kind}/{id}", s.handleGetResource)
	mux.HandleFunc("PUT /api/resources/{kind}/{id}", s.handleUpdateResource)
	mux.HandleFunc("DELETE /api/resources/{kind}/{id}", s.handleDeleteResource)
	mux.HandleFunc("GET /api/guardrails/probes", s.handleListProbes)

	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// ListenAndServe runs a standalone HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.session.Snapshot())
}

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	prompt := r.PathValue("prompt")
	spans, err := s.backend.ListTraces(r.Context(), prompt)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, map[string]any{"traces": spans})
}

// handleTraceDetail fetches one trace and builds its tree. The fetch
// runs under the latest-wins guard: a newer detail request cancels this
// one, and a stale result is returned to its caller but never applied
// to the cached view the WebSocket clients read.
func (s *Server) handleTraceDetail(w http.ResponseWriter, r *http.Request) {
	prompt := r.PathValue("prompt")
	traceID := r.PathValue("traceID")

	ctx, token := s.detailGuard.Begin(r.Context())
	spans, err := s.backend.GetTrace(ctx, prompt, traceID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	forest := tracetree.BuildDetail(spans, model.EarliestMillis(spans))
	view := &detailView{Prompt: prompt, TraceID: traceID, Forest: forest}

	if s.detailGuard.Keep(token) {
		s.detailMu.Lock()
		s.detail = view
		s.detailMu.Unlock()
	}
	writeJSON(w, view)
}

func (s *Server) handleTraceWaterfall(w http.ResponseWriter, r *http.Request) {
	prompt := r.PathValue("prompt")
	traceID := r.PathValue("traceID")

	spans, err := s.backend.GetTrace(r.Context(), prompt, traceID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	width := 0
	if ws := r.URL.Query().Get("width"); ws != "" {
		if n, err := strconv.Atoi(ws); err == nil {
			width = n
		}
	}

	forest := tracetree.BuildDetail(spans, model.EarliestMillis(spans))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(tracetree.Waterfall(forest, width)))
}

func (s *Server) handleExpandAll(w http.ResponseWriter, r *http.Request) {
	prompt := r.PathValue("prompt")

	var body struct {
		TraceIDs []string `json:"trace_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	spans, err := s.backend.ExpandAll(r.Context(), prompt, body.TraceIDs)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	forest := tracetree.BuildLive(spans, model.EarliestMillis(spans))
	writeJSON(w, map[string]any{
		"forest":     forest,
		"span_count": tracetree.CountNodes(forest),
	})
}

// handleLiveEntries serves the visible list. With ?recent=N it serves
// the last N raw arrivals instead, for clients that want a tail rather
// than the merged trees.
func (s *Server) handleLiveEntries(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid recent count %q", v))
			return
		}
		writeJSON(w, map[string]any{
			"stats":   s.session.Snapshot(),
			"entries": s.session.RecentArrivals(n),
		})
		return
	}
	writeJSON(w, map[string]any{
		"stats":   s.session.Snapshot(),
		"entries": s.session.Entries(),
	})
}

func (s *Server) handleLiveMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.session.SetEnabled(body.Enabled)
	writeJSON(w, s.session.Snapshot())
}

func (s *Server) handleLiveView(w http.ResponseWriter, r *http.Request) {
	var body struct {
		View live.View `json:"view"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.View != live.ViewFlat && body.View != live.ViewTree {
		writeError(w, http.StatusBadRequest, errors.New("view must be flat or tree"))
		return
	}
	s.session.SetView(body.View)
	writeJSON(w, s.session.Snapshot())
}

// handleLiveRange records a time-range change. Changing the range while
// live is active force-disables live mode and clears its buffers.
func (s *Server) handleLiveRange(w http.ResponseWriter, r *http.Request) {
	if s.session.Enabled() {
		s.session.ForceDisable()
	}
	writeJSON(w, s.session.Snapshot())
}

func (s *Server) handleLiveChart(w http.ResponseWriter, r *http.Request) {
	buckets := 30
	window := 5 * time.Minute

	q := r.URL.Query()
	if bs := q.Get("buckets"); bs != "" {
		if n, err := strconv.Atoi(bs); err == nil && n > 0 && n <= 500 {
			buckets = n
		}
	}
	if ws := q.Get("window"); ws != "" {
		if d, err := time.ParseDuration(ws); err == nil && d > 0 {
			window = d
		}
	}

	writeJSON(w, map[string]any{"buckets": s.session.ChartBuckets(buckets, window)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("console: failed to write JSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	log.Printf("console: request failed: %v", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
