// Package tracetree assembles flat span lists into ordered forests of
// LogEntry nodes. It is pure: no I/O, no retained state, and malformed
// input degrades to zero/NaN fields instead of errors.
package tracetree

import (
	"math"
	"sort"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

// BuildDetail builds the full forest for one fetched trace-detail batch.
// Roots are spans with no parent, plus spans whose declared parent is
// absent from the batch; those promoted orphans are marked PartialTrace.
// Roots and every sibling list come back sorted ascending by
// StartOffsetSec. earliestMs is the reference timestamp in epoch ms;
// pass model.EarliestMillis(spans) to anchor offsets at the batch start.
func BuildDetail(spans []model.TraceSpan, earliestMs float64) []*model.LogEntry {
	if len(spans) == 0 {
		return nil
	}

	// One pass to index entries and child lists. Children hang off the
	// parent span ID so attachment is O(1) per span.
	byID := make(map[string]*model.LogEntry, len(spans))
	children := make(map[string][]*model.LogEntry, len(spans))
	order := make([]*model.LogEntry, 0, len(spans))

	for i := range spans {
		s := &spans[i]
		if s.SpanID == "" {
			continue
		}
		if _, dup := byID[s.SpanID]; dup {
			// Same span delivered twice in one batch; first wins.
			continue
		}
		e := model.NewLogEntry(s, earliestMs)
		byID[s.SpanID] = e
		order = append(order, e)
	}

	var roots []*model.LogEntry
	for _, e := range order {
		if e.ParentSpanID == "" {
			roots = append(roots, e)
			continue
		}
		if parent, ok := byID[e.ParentSpanID]; ok && parent != e {
			children[e.ParentSpanID] = append(children[e.ParentSpanID], e)
			continue
		}
		// Parent outside the fetched window: promote to root and flag
		// it so consumers can render a partial-trace indicator.
		e.PartialTrace = true
		roots = append(roots, e)
	}

	for _, e := range order {
		kids := children[e.SpanID]
		if len(kids) == 0 {
			continue
		}
		sortByOffset(kids)
		e.Children = kids
		e.CanExpand = true
	}

	roots = promoteUnreachable(roots, order, byID)

	sortByOffset(roots)
	return roots
}

// promoteUnreachable rescues spans trapped in parent cycles (A claims B
// as parent, B claims A). Such spans never root and would otherwise
// vanish from the forest. The first-seen member of each cycle becomes a
// PartialTrace root and its edge back into the cycle is cut.
func promoteUnreachable(roots, order []*model.LogEntry, byID map[string]*model.LogEntry) []*model.LogEntry {
	reachable := make(map[*model.LogEntry]bool, len(order))
	var mark func(e *model.LogEntry)
	mark = func(e *model.LogEntry) {
		if reachable[e] {
			return
		}
		reachable[e] = true
		for _, k := range e.Children {
			mark(k)
		}
	}
	for _, r := range roots {
		mark(r)
	}

	for _, e := range order {
		if reachable[e] {
			continue
		}
		if parent, ok := byID[e.ParentSpanID]; ok {
			parent.Children = removeChild(parent.Children, e)
			if len(parent.Children) == 0 {
				parent.Children = nil
			}
		}
		e.PartialTrace = true
		roots = append(roots, e)
		mark(e)
	}
	return roots
}

func removeChild(kids []*model.LogEntry, drop *model.LogEntry) []*model.LogEntry {
	out := kids[:0]
	for _, k := range kids {
		if k != drop {
			out = append(out, k)
		}
	}
	return out
}

// BuildLive groups an unordered stream batch by trace ID and assembles
// each trace's tree with the same indexed builder, returning one forest
// ordered by each trace's earliest offset. Traces are kept contiguous
// even when their spans interleaved on arrival.
func BuildLive(spans []model.TraceSpan, earliestMs float64) []*model.LogEntry {
	if len(spans) == 0 {
		return nil
	}

	byTrace := make(map[string][]model.TraceSpan)
	var traceOrder []string
	for i := range spans {
		tid := spans[i].TraceID
		if _, seen := byTrace[tid]; !seen {
			traceOrder = append(traceOrder, tid)
		}
		byTrace[tid] = append(byTrace[tid], spans[i])
	}

	var forest []*model.LogEntry
	for _, tid := range traceOrder {
		forest = append(forest, BuildDetail(byTrace[tid], earliestMs)...)
	}

	sortByOffset(forest)
	return forest
}

// sortByOffset orders entries ascending by StartOffsetSec. NaN offsets
// (malformed timestamps) sort last so valid spans keep their order.
func sortByOffset(entries []*model.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].StartOffsetSec, entries[j].StartOffsetSec
		if math.IsNaN(a) {
			return false
		}
		if math.IsNaN(b) {
			return true
		}
		return a < b
	})
}

// CountNodes returns the total number of entries in a forest.
func CountNodes(forest []*model.LogEntry) int {
	n := 0
	for _, e := range forest {
		n += 1 + CountNodes(e.Children)
	}
	return n
}
