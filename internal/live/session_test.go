package live

import (
	"fmt"
	"testing"
	"time"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

func makeSpan(spanID, parentID, traceID string, tsMillis float64) model.TraceSpan {
	dur := int64(1_000_000)
	return model.TraceSpan{
		SpanID:       spanID,
		ParentSpanID: parentID,
		TraceID:      traceID,
		Timestamp:    model.NewFlexTime(tsMillis),
		Duration:     &dur,
		SpanName:     "op-" + spanID,
		ServiceName:  "svc",
	}
}

func newTestSession(cfg Config) *Session {
	s := NewSession(cfg, nil)
	s.SetEnabled(true)
	return s
}

func TestSessionDedupBySpanID(t *testing.T) {
	s := newTestSession(Config{})

	sp := makeSpan("A", "", "t1", 1000)
	if got := s.Ingest("test", []model.TraceSpan{sp}); got != 1 {
		t.Fatalf("first ingest: expected 1 accepted, got %d", got)
	}
	// Same span_id again, singly and inside a batch.
	if got := s.Ingest("test", []model.TraceSpan{sp}); got != 0 {
		t.Fatalf("duplicate ingest: expected 0 accepted, got %d", got)
	}
	if got := s.Ingest("test", []model.TraceSpan{sp, makeSpan("B", "", "t1", 1001)}); got != 1 {
		t.Fatalf("mixed batch: expected 1 accepted, got %d", got)
	}

	if n := len(s.Entries()); n != 2 {
		t.Errorf("expected 2 visible entries, got %d", n)
	}
	stats := s.Snapshot()
	if stats.Duplicates != 2 {
		t.Errorf("expected 2 duplicates counted, got %d", stats.Duplicates)
	}
}

func TestSessionEvictionKeepsNewest(t *testing.T) {
	cap := 10
	s := newTestSession(Config{VisibleCap: cap})

	for i := 0; i < cap+5; i++ {
		s.Ingest("test", []model.TraceSpan{
			makeSpan(fmt.Sprintf("s%03d", i), "", fmt.Sprintf("t%03d", i), float64(1000+i)),
		})
	}

	entries := s.Entries()
	if len(entries) != cap {
		t.Fatalf("expected %d entries after eviction, got %d", cap, len(entries))
	}
	// Oldest dropped first: the list starts at s005.
	if entries[0].SpanID != "s005" {
		t.Errorf("expected oldest surviving entry s005, got %s", entries[0].SpanID)
	}
	if entries[len(entries)-1].SpanID != "s014" {
		t.Errorf("expected newest entry s014, got %s", entries[len(entries)-1].SpanID)
	}
	if got := s.Snapshot().Evictions; got != 5 {
		t.Errorf("expected 5 evictions counted, got %d", got)
	}
}

func TestSessionTreeViewReplacesTrace(t *testing.T) {
	s := newTestSession(Config{})
	s.SetView(ViewTree)

	s.Ingest("test", []model.TraceSpan{makeSpan("root", "", "t1", 1000)})
	if entries := s.Entries(); len(entries) != 1 || len(entries[0].Children) != 0 {
		t.Fatalf("expected single childless root, got %+v", entries)
	}

	// Late-arriving child merges into the same trace entry instead of
	// appending a second one.
	s.Ingest("test", []model.TraceSpan{makeSpan("kid", "root", "t1", 1100)})

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after merge, got %d", len(entries))
	}
	if len(entries[0].Children) != 1 || entries[0].Children[0].SpanID != "kid" {
		t.Errorf("expected child kid merged under root, got %+v", entries[0].Children)
	}
}

func TestSessionTreeViewKeepsTracePosition(t *testing.T) {
	s := newTestSession(Config{})
	s.SetView(ViewTree)

	s.Ingest("test", []model.TraceSpan{makeSpan("a", "", "t-a", 1000)})
	s.Ingest("test", []model.TraceSpan{makeSpan("b", "", "t-b", 2000)})
	// Completion for the first trace arrives last.
	s.Ingest("test", []model.TraceSpan{makeSpan("a2", "a", "t-a", 1050)})

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].TraceID != "t-a" || entries[1].TraceID != "t-b" {
		t.Errorf("trace order changed on merge: %s, %s", entries[0].TraceID, entries[1].TraceID)
	}
}

func TestSessionDisableClearsState(t *testing.T) {
	s := newTestSession(Config{})
	s.Ingest("test", []model.TraceSpan{makeSpan("A", "", "t1", 1000)})

	s.SetEnabled(false)

	if n := len(s.Entries()); n != 0 {
		t.Errorf("expected no entries after disable, got %d", n)
	}
	stats := s.Snapshot()
	if stats.SeenCount != 0 {
		t.Errorf("expected dedup state cleared, got %d seen", stats.SeenCount)
	}

	// Ingest while disabled is discarded.
	if got := s.Ingest("test", []model.TraceSpan{makeSpan("B", "", "t1", 1000)}); got != 0 {
		t.Errorf("expected 0 accepted while disabled, got %d", got)
	}

	// Re-enabling starts fresh, so a previously-seen span_id is new again.
	s.SetEnabled(true)
	if got := s.Ingest("test", []model.TraceSpan{makeSpan("A", "", "t1", 1000)}); got != 1 {
		t.Errorf("expected span accepted after restart, got %d", got)
	}
}

func TestSessionViewSwitchRebuilds(t *testing.T) {
	s := newTestSession(Config{})

	s.Ingest("test", []model.TraceSpan{
		makeSpan("root", "", "t1", 1000),
		makeSpan("kid", "root", "t1", 1100),
	})

	// Flat view: two independent entries.
	if n := len(s.Entries()); n != 2 {
		t.Fatalf("flat view: expected 2 entries, got %d", n)
	}

	s.SetView(ViewTree)
	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("tree view: expected 1 root, got %d", len(entries))
	}
	if len(entries[0].Children) != 1 {
		t.Errorf("tree view: expected rebuilt child, got %+v", entries[0].Children)
	}

	// And back again.
	s.SetView(ViewFlat)
	if n := len(s.Entries()); n != 2 {
		t.Errorf("flat view after switch back: expected 2 entries, got %d", n)
	}
}

func TestSessionStartOffsets(t *testing.T) {
	s := newTestSession(Config{})

	s.Ingest("test", []model.TraceSpan{
		makeSpan("A", "", "t1", 5000),
		makeSpan("B", "", "t1", 5500),
	})

	entries := s.Entries()
	if entries[0].StartOffsetSec != 0 {
		t.Errorf("first entry offset: expected 0, got %g", entries[0].StartOffsetSec)
	}
	if entries[1].StartOffsetSec != 0.5 {
		t.Errorf("second entry offset: expected 0.5, got %g", entries[1].StartOffsetSec)
	}
}

func TestSessionSubscribeNotifies(t *testing.T) {
	s := newTestSession(Config{})
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	before := s.Generation()
	s.Ingest("test", []model.TraceSpan{makeSpan("A", "", "t1", 1000)})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification after ingest")
	}
	if s.Generation() <= before {
		t.Errorf("expected generation to advance past %d", before)
	}
}

func TestSessionArrivalDeltas(t *testing.T) {
	s := newTestSession(Config{})

	pos := s.ArrivalPos()
	s.Ingest("test", []model.TraceSpan{
		makeSpan("A", "", "t1", 1000),
		makeSpan("B", "", "t2", 1001),
	})

	delta := s.ArrivalRange(pos, s.ArrivalPos()-1)
	if len(delta) != 2 {
		t.Fatalf("expected 2 delta entries, got %d", len(delta))
	}
	if delta[0].SpanID != "A" || delta[1].SpanID != "B" {
		t.Errorf("delta out of order: %s, %s", delta[0].SpanID, delta[1].SpanID)
	}
}

func TestSessionChartBuckets(t *testing.T) {
	s := newTestSession(Config{})

	// Pin the clock so arrival bucketing is deterministic.
	base := time.Unix(1000, 0)
	s.now = func() time.Time { return base }

	errSpan := makeSpan("E", "", "t1", 1000)
	errSpan.StatusCode = "ERROR"
	s.Ingest("test", []model.TraceSpan{
		makeSpan("A", "", "t1", 1000),
		errSpan,
	})

	// Samples landed at base; query a window ending just after.
	s.now = func() time.Time { return base.Add(time.Second) }
	buckets := s.ChartBuckets(10, 10*time.Second)
	if len(buckets) != 10 {
		t.Fatalf("expected 10 buckets, got %d", len(buckets))
	}

	total, errs := 0, 0
	for _, b := range buckets {
		total += b.Count
		errs += b.ErrorCount
	}
	if total != 2 {
		t.Errorf("expected 2 samples bucketed, got %d", total)
	}
	if errs != 1 {
		t.Errorf("expected 1 error sample, got %d", errs)
	}
}

func TestSessionRecentArrivals(t *testing.T) {
	s := newTestSession(Config{})
	s.Ingest("test", []model.TraceSpan{
		makeSpan("A", "", "t1", 1000),
		makeSpan("B", "", "t1", 1001),
		makeSpan("C", "", "t1", 1002),
	})

	recent := s.RecentArrivals(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent arrivals, got %d", len(recent))
	}
	if recent[0].SpanID != "B" || recent[1].SpanID != "C" {
		t.Errorf("expected tail [B C], got [%s %s]", recent[0].SpanID, recent[1].SpanID)
	}

	if got := s.RecentArrivals(10); len(got) != 3 {
		t.Errorf("expected all 3 when asking for more, got %d", len(got))
	}
}

func TestSessionResetClampsStaleArrivalPositions(t *testing.T) {
	s := newTestSession(Config{})
	s.Ingest("test", []model.TraceSpan{
		makeSpan("A", "", "t1", 1000),
		makeSpan("B", "", "t1", 1001),
	})
	stalePos := s.ArrivalPos()

	// Toggling live mode resets the arrival stream in place. A client
	// still holding the old position must read empty, not panic or see
	// spans from the previous session.
	s.SetEnabled(false)
	s.SetEnabled(true)

	if s.ArrivalPos() != 0 {
		t.Fatalf("expected arrival position reset to 0, got %d", s.ArrivalPos())
	}
	if got := s.ArrivalRange(stalePos-1, stalePos); got != nil {
		t.Errorf("expected nil for stale range after reset, got %v", got)
	}

	s.Ingest("test", []model.TraceSpan{makeSpan("C", "", "t1", 1002)})
	fresh := s.ArrivalRange(0, s.ArrivalPos()-1)
	if len(fresh) != 1 || fresh[0].SpanID != "C" {
		t.Errorf("expected only the new session's span, got %v", fresh)
	}
}
