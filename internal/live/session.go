// Package live owns the state of a live trace session: span_id
// deduplication, the capped visible list in flat or tree view, and the
// raw sample retention that feeds arrival-time charting.
package live

import (
	"math"
	"sync"
	"time"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/metrics"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/tracetree"
)

// View selects how ingested spans are surfaced.
type View string

const (
	// ViewFlat appends one entry per span in arrival order.
	ViewFlat View = "flat"
	// ViewTree groups spans per trace and rebuilds that trace's
	// subtree on every arrival, replacing the previous rendition.
	ViewTree View = "tree"
)

const (
	// DefaultVisibleCap bounds the visible entry list.
	DefaultVisibleCap = 200
	// DefaultSampleCap bounds raw span retention for charting and
	// view-mode rebuilds.
	DefaultSampleCap = 10_000
)

// Config sizes a session's buffers. Zero values take the defaults.
type Config struct {
	VisibleCap int
	SampleCap  int
}

// Sample is one chart observation, bucketed by arrival time rather than
// event time so the chart scrolls with the stream.
type Sample struct {
	ArrivalUnixNano int64
	DurationSec     float64
	IsError         bool
	Service         string
}

// Session is the live-mode state machine. Producers are stream
// goroutines pushing span batches; consumers are HTTP and WebSocket
// handlers reading snapshots.
type Session struct {
	cfg Config
	mtr *metrics.Metrics // optional
	now func() time.Time

	mu         sync.RWMutex
	enabled    bool
	view       View
	seen       map[string]struct{}
	earliestMs float64
	entries    []*model.LogEntry
	traceSpans map[string][]model.TraceSpan

	raw      *Ring[model.TraceSpan]
	arrivals *Ring[*model.LogEntry]
	samples  *Ring[Sample]

	accepted   uint64
	duplicates uint64
	evictions  uint64
	generation uint64
	startTime  time.Time

	subMu     sync.Mutex
	subs      map[uint64]chan struct{}
	nextSubID uint64
}

// NewSession creates a disabled session; call SetEnabled(true) to start
// accepting spans. mtr may be nil.
func NewSession(cfg Config, mtr *metrics.Metrics) *Session {
	if cfg.VisibleCap <= 0 {
		cfg.VisibleCap = DefaultVisibleCap
	}
	if cfg.SampleCap <= 0 {
		cfg.SampleCap = DefaultSampleCap
	}
	s := &Session{
		cfg:  cfg,
		mtr:  mtr,
		now:  time.Now,
		view: ViewFlat,
		subs: make(map[uint64]chan struct{}),
	}
	s.resetLocked()
	return s
}

// resetLocked reinitializes all per-session buffers and dedup state.
// The rings are cleared in place rather than reallocated so stale
// stream positions held by clients clamp to empty instead of pointing
// at a different buffer.
func (s *Session) resetLocked() {
	s.seen = make(map[string]struct{})
	s.earliestMs = math.NaN()
	s.entries = nil
	s.traceSpans = make(map[string][]model.TraceSpan)
	if s.raw == nil {
		s.raw = NewRing[model.TraceSpan](s.cfg.SampleCap)
		s.arrivals = NewRing[*model.LogEntry](s.cfg.SampleCap)
		s.samples = NewRing[Sample](s.cfg.SampleCap)
	} else {
		s.raw.Clear()
		s.arrivals.Clear()
		s.samples.Clear()
	}
	s.startTime = s.now()
}

// SetEnabled toggles live mode. Turning it off clears all buffers and
// dedup state; turning it on starts a fresh session.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.enabled != enabled {
		s.enabled = enabled
		s.resetLocked()
		s.generation++
	}
	s.mu.Unlock()
	s.notifySubscribers()
}

// Enabled reports whether live mode is on.
func (s *Session) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// ForceDisable turns live mode off, clearing everything. Used when the
// consumer changes its time-range filter while live is active.
func (s *Session) ForceDisable() {
	s.SetEnabled(false)
}

// SetView switches between flat and tree views. The visible list is
// rebuilt fresh from retained raw spans; dedup state is untouched.
func (s *Session) SetView(v View) {
	if v != ViewFlat && v != ViewTree {
		return
	}
	s.mu.Lock()
	if s.view != v {
		s.view = v
		s.rebuildLocked()
		s.generation++
	}
	s.mu.Unlock()
	s.notifySubscribers()
}

// CurrentView returns the active view mode.
func (s *Session) CurrentView() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Ingest merges an arriving batch into the session. Spans already seen
// by span_id are dropped; the rest land in the visible list per the
// active view. Returns the number of spans accepted. Batches pushed
// while live mode is off are discarded wholesale.
func (s *Session) Ingest(source string, batch []model.TraceSpan) int {
	if len(batch) == 0 {
		return 0
	}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return 0
	}

	fresh := batch[:0:0]
	for i := range batch {
		id := batch[i].SpanID
		if id == "" {
			continue
		}
		if _, dup := s.seen[id]; dup {
			s.duplicates++
			if s.mtr != nil {
				s.mtr.DuplicateSpans.Inc()
			}
			continue
		}
		s.seen[id] = struct{}{}
		fresh = append(fresh, batch[i])
	}
	if len(fresh) == 0 {
		s.mu.Unlock()
		return 0
	}

	for i := range fresh {
		if ms := fresh[i].Timestamp.Millis(); !math.IsNaN(ms) {
			if math.IsNaN(s.earliestMs) || ms < s.earliestMs {
				s.earliestMs = ms
			}
		}
	}

	arrival := s.now().UnixNano()
	affected := make(map[string]struct{})
	for i := range fresh {
		sp := &fresh[i]
		s.raw.Push(fresh[i])
		s.arrivals.Push(model.NewLogEntry(sp, s.earliestMs))
		s.samples.Push(Sample{
			ArrivalUnixNano: arrival,
			DurationSec:     sp.DurationSeconds(),
			IsError:         sp.StatusCode == "ERROR" || sp.StatusCode == "STATUS_CODE_ERROR",
			Service:         sp.ServiceName,
		})
		affected[sp.TraceID] = struct{}{}
	}

	switch s.view {
	case ViewTree:
		for i := range fresh {
			tid := fresh[i].TraceID
			s.traceSpans[tid] = append(s.traceSpans[tid], fresh[i])
		}
		for tid := range affected {
			roots := tracetree.BuildDetail(s.traceSpans[tid], s.earliestMs)
			s.replaceTraceLocked(tid, roots)
		}
	default:
		for i := range fresh {
			s.entries = append(s.entries, model.NewLogEntry(&fresh[i], s.earliestMs))
		}
	}
	s.trimLocked()

	s.accepted += uint64(len(fresh))
	if s.mtr != nil {
		s.mtr.SpansReceived.WithLabelValues(source).Add(float64(len(fresh)))
	}
	s.generation++
	s.mu.Unlock()

	s.notifySubscribers()
	return len(fresh)
}

// replaceTraceLocked swaps the entries belonging to one trace with a
// freshly built forest, keeping the trace's original list position so
// late-arriving completions don't jump the list.
func (s *Session) replaceTraceLocked(tid string, roots []*model.LogEntry) {
	out := make([]*model.LogEntry, 0, len(s.entries)+len(roots))
	inserted := false
	for _, e := range s.entries {
		if e.TraceID == tid {
			if !inserted {
				out = append(out, roots...)
				inserted = true
			}
			continue
		}
		out = append(out, e)
	}
	if !inserted {
		out = append(out, roots...)
	}
	s.entries = out
}

// trimLocked evicts oldest entries past the visible cap. In tree view
// the per-trace span index for fully-evicted traces is released too.
// The dedup set is deliberately kept for the session's lifetime.
func (s *Session) trimLocked() {
	over := len(s.entries) - s.cfg.VisibleCap
	if over <= 0 {
		return
	}
	evicted := s.entries[:over]
	s.entries = s.entries[over:]
	s.evictions += uint64(over)
	if s.mtr != nil {
		s.mtr.LiveEvictions.Add(float64(over))
	}

	if s.view != ViewTree {
		return
	}
	kept := make(map[string]struct{}, len(s.entries))
	for _, e := range s.entries {
		kept[e.TraceID] = struct{}{}
	}
	for _, e := range evicted {
		if _, ok := kept[e.TraceID]; !ok {
			delete(s.traceSpans, e.TraceID)
		}
	}
}

// rebuildLocked reconstructs the visible list fresh from retained raw
// spans, per the active view.
func (s *Session) rebuildLocked() {
	spans := s.raw.Snapshot()
	s.entries = nil
	s.traceSpans = make(map[string][]model.TraceSpan)

	switch s.view {
	case ViewTree:
		for i := range spans {
			tid := spans[i].TraceID
			s.traceSpans[tid] = append(s.traceSpans[tid], spans[i])
		}
		seenTrace := make(map[string]struct{})
		for i := range spans {
			tid := spans[i].TraceID
			if _, done := seenTrace[tid]; done {
				continue
			}
			seenTrace[tid] = struct{}{}
			s.entries = append(s.entries, tracetree.BuildDetail(s.traceSpans[tid], s.earliestMs)...)
		}
	default:
		for i := range spans {
			s.entries = append(s.entries, model.NewLogEntry(&spans[i], s.earliestMs))
		}
	}
	s.trimLocked()
}

// Entries returns a copy of the visible list in insertion order.
// Entries are shared; treat them as read-only.
func (s *Session) Entries() []*model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ArrivalPos returns the absolute arrival-stream position, for
// WebSocket delta reads.
func (s *Session) ArrivalPos() int { return s.arrivals.Pos() }

// ArrivalRange returns flat arrival entries between absolute positions,
// clamped to what is still retained.
func (s *Session) ArrivalRange(start, end int) []*model.LogEntry {
	return s.arrivals.Range(start, end)
}

// RecentArrivals returns the last n arrivals in arrival order, fewer
// when the session has not seen that many yet.
func (s *Session) RecentArrivals(n int) []*model.LogEntry {
	return s.arrivals.Recent(n)
}

// Stats is a point-in-time summary of session state.
type Stats struct {
	Enabled    bool    `json:"enabled"`
	View       View    `json:"view"`
	EntryCount int     `json:"entry_count"`
	SeenCount  int     `json:"seen_count"`
	Accepted   uint64  `json:"accepted"`
	Duplicates uint64  `json:"duplicates"`
	Evictions  uint64  `json:"evictions"`
	Generation uint64  `json:"generation"`
	UptimeSec  float64 `json:"uptime_seconds"`
}

// Snapshot returns current session statistics.
func (s *Session) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Enabled:    s.enabled,
		View:       s.view,
		EntryCount: len(s.entries),
		SeenCount:  len(s.seen),
		Accepted:   s.accepted,
		Duplicates: s.duplicates,
		Evictions:  s.evictions,
		Generation: s.generation,
		UptimeSec:  s.now().Sub(s.startTime).Seconds(),
	}
}

// Generation returns the change counter, incremented on every mutation.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Subscribe returns a notification channel and an unsubscribe function.
// The channel is buffered with capacity 1 so rapid updates coalesce.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Session) notifySubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Pending notification already queued; coalesce.
		}
	}
}
