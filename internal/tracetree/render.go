package tracetree

import (
	"fmt"
	"math"
	"strings"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

const (
	maxRenderedSpans = 50
	renderBarWidth   = 20
)

// Waterfall renders a trace forest as an ASCII waterfall, one row per
// span with a timing bar positioned by start offset. Width controls the
// total line width; 0 uses 80. Intended for the text debug endpoint and
// doctor output, not for machine consumption.
func Waterfall(forest []*model.LogEntry, width int) string {
	if len(forest) == 0 {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	var rows []renderRow
	for ri, root := range forest {
		flattenRows(&rows, root, 0, []bool{ri == len(forest)-1})
	}

	overflow := 0
	if len(rows) > maxRenderedSpans {
		overflow = len(rows) - maxRenderedSpans
		rows = rows[:maxRenderedSpans]
	}

	// Total window spanned by the rendered rows, used to scale bars.
	var windowSec float64
	for _, r := range rows {
		if end := r.entry.StartOffsetSec + r.entry.Duration; !math.IsNaN(end) && end > windowSec {
			windowSec = end
		}
	}

	maxDurLen := 0
	for _, r := range rows {
		if l := len(formatSeconds(r.entry.Duration)) + errSuffixLen(r.entry); l > maxDurLen {
			maxDurLen = l
		}
	}

	var b strings.Builder
	for _, r := range rows {
		renderRowLine(&b, r, windowSec, width, maxDurLen)
	}
	if overflow > 0 {
		fmt.Fprintf(&b, "  ... +%d more spans\n", overflow)
	}
	return b.String()
}

type renderRow struct {
	entry  *model.LogEntry
	depth  int
	isLast []bool
}

func flattenRows(rows *[]renderRow, e *model.LogEntry, depth int, isLast []bool) {
	*rows = append(*rows, renderRow{entry: e, depth: depth, isLast: isLast})
	for ci, child := range e.Children {
		childIsLast := append(append([]bool{}, isLast...), ci == len(e.Children)-1)
		flattenRows(rows, child, depth+1, childIsLast)
	}
}

func errSuffixLen(e *model.LogEntry) int {
	if e.HasException {
		return 7 // " !! ERR"
	}
	return 0
}

func renderRowLine(b *strings.Builder, r renderRow, windowSec float64, width, maxDurLen int) {
	// Tree-drawing characters are multi-byte UTF-8 but single display
	// column, so track columns separately from byte length.
	var prefix strings.Builder
	prefixCols := 1
	prefix.WriteString(" ")
	for d := 0; d < r.depth; d++ {
		if d < len(r.isLast)-1 {
			if r.isLast[d] {
				prefix.WriteString("  ")
			} else {
				prefix.WriteString("│ ")
			}
			prefixCols += 2
		}
	}
	if r.depth > 0 {
		if len(r.isLast) > 0 && r.isLast[len(r.isLast)-1] {
			prefix.WriteString("└─ ")
		} else {
			prefix.WriteString("├─ ")
		}
		prefixCols += 3
	}

	label := r.entry.ServiceName + "." + r.entry.SpanName
	if r.entry.PartialTrace {
		label += " (partial)"
	}

	errSuffix := ""
	if r.entry.HasException {
		errSuffix = " !! ERR"
	}

	durStr := formatSeconds(r.entry.Duration)

	fixedCols := prefixCols + 2 + renderBarWidth + 2 + maxDurLen
	labelBudget := max(width-fixedCols, 8)
	if len(label) > labelBudget {
		label = label[:labelBudget-1] + "…"
	}
	paddedLabel := label + strings.Repeat(" ", max(0, labelBudget-len(label)))

	bar := offsetBar(r.entry.StartOffsetSec, r.entry.Duration, windowSec)

	durErr := durStr + errSuffix
	paddedDurErr := durErr + strings.Repeat(" ", max(0, maxDurLen-len(durErr)))

	fmt.Fprintf(b, "%s%s [%s] %s\n", prefix.String(), paddedLabel, bar, paddedDurErr)
}

func offsetBar(startSec, durSec, windowSec float64) string {
	if windowSec <= 0 || math.IsNaN(startSec) {
		return strings.Repeat("#", renderBarWidth)
	}

	startPos := int(startSec / windowSec * renderBarWidth)
	endPos := int((startSec + durSec) / windowSec * renderBarWidth)

	if startPos >= renderBarWidth {
		startPos = renderBarWidth - 1
	}
	if startPos < 0 {
		startPos = 0
	}
	endPos = max(endPos, startPos+1)
	endPos = min(endPos, renderBarWidth)

	bar := make([]byte, renderBarWidth)
	for i := range bar {
		if i >= startPos && i < endPos {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return string(bar)
}

func formatSeconds(sec float64) string {
	if math.IsNaN(sec) {
		return "?"
	}
	if sec == 0 {
		return "0s"
	}
	us := sec * 1e6
	if us < 1000 {
		return fmt.Sprintf("%.0fµs", us)
	}
	ms := us / 1000
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.1fs", ms/1000)
}
