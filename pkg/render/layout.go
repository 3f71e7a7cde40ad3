package render

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/dkoosis/cukedash/pkg/pattern"
)

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// spark maps values onto block glyphs. A zero Min and Max means auto-scale.
func spark(s *pattern.Sparkline) string {
	minVal, maxVal := s.Min, s.Max
	if minVal == 0 && maxVal == 0 {
		minVal, maxVal = s.Values[0], s.Values[0]
		for _, v := range s.Values {
			minVal = min(minVal, v)
			maxVal = max(maxVal, v)
		}
	}
	valueRange := maxVal - minVal
	if valueRange == 0 {
		valueRange = 1
	}

	var sb strings.Builder
	for _, v := range s.Values {
		idx := int((v - minVal) / valueRange * 7)
		sb.WriteRune(sparkBlocks[min(max(idx, 0), 7)])
	}
	return sb.String()
}

// truncate shortens s to at most width display cells.
func truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

func padRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

func padLeft(s string, width int) string {
	return runewidth.FillLeft(s, width)
}

// columnWidths returns the widest name and duration in a table, the name
// capped at limit.
func columnWidths(rows []pattern.TestTableItem, limit int) (name, dur int) {
	for _, r := range rows {
		name = max(name, runewidth.StringWidth(r.Name))
		dur = max(dur, runewidth.StringWidth(r.Duration))
	}
	return min(name, limit), dur
}

func splitDetails(details string, limit int) (lines []string, hidden int) {
	lines = strings.Split(strings.TrimRight(details, "\n"), "\n")
	if limit > 0 && len(lines) > limit {
		return lines[:limit], len(lines) - limit
	}
	return lines, 0
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
