package render

import (
	"fmt"
	"strings"

	"github.com/dkoosis/cukedash/pkg/pattern"
)

// maxDetailLines caps the detail lines printed under a table row.
const maxDetailLines = 5

// Plain renders patterns as ANSI-free text for pipes, CI logs and files.
// Output is deterministic: no padding that depends on terminal width.
type Plain struct{}

// NewPlain creates a plain text renderer.
func NewPlain() *Plain {
	return &Plain{}
}

// Render formats all patterns as plain text.
func (p *Plain) Render(patterns []pattern.Pattern) string {
	var sections []string
	for _, pat := range patterns {
		var s string
		switch v := pat.(type) {
		case *pattern.Summary:
			s = p.renderSummary(v)
		case *pattern.Leaderboard:
			s = p.renderLeaderboard(v)
		case *pattern.TestTable:
			s = p.renderTestTable(v)
		case *pattern.Sparkline:
			s = p.renderSparkline(v)
		}
		if s != "" {
			sections = append(sections, s)
		}
	}
	return strings.Join(sections, "\n")
}

func (p *Plain) renderSummary(s *pattern.Summary) string {
	var sb strings.Builder
	if s.Label != "" {
		sb.WriteString(s.Label + "\n")
	}
	for _, m := range s.Metrics {
		fmt.Fprintf(&sb, "  %s: %s\n", m.Label, m.Value)
	}
	return sb.String()
}

func (p *Plain) renderLeaderboard(l *pattern.Leaderboard) string {
	if len(l.Items) == 0 {
		return ""
	}
	var sb strings.Builder
	if l.Label != "" {
		sb.WriteString(l.Label)
		if l.TotalCount > len(l.Items) {
			fmt.Fprintf(&sb, " (top %d of %d)", len(l.Items), l.TotalCount)
		}
		sb.WriteString("\n")
	}
	for _, item := range l.Items {
		sb.WriteString("  ")
		if l.ShowRank {
			fmt.Fprintf(&sb, "%d. ", item.Rank)
		}
		fmt.Fprintf(&sb, "%s: %s", item.Name, item.Metric)
		if item.Context != "" {
			fmt.Fprintf(&sb, " (%s)", item.Context)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (p *Plain) renderTestTable(tt *pattern.TestTable) string {
	if len(tt.Results) == 0 {
		return ""
	}
	var sb strings.Builder
	if tt.Label != "" {
		sb.WriteString(tt.Label + "\n")
	}
	for _, r := range tt.Results {
		fmt.Fprintf(&sb, "  %s %s", statusWord(r.Status), r.Name)
		if r.Count > 0 {
			fmt.Fprintf(&sb, " [%s]", plural(r.Count, "scenario"))
		}
		if r.Duration != "" {
			fmt.Fprintf(&sb, " (%s)", r.Duration)
		}
		sb.WriteString("\n")

		if r.Details == "" {
			continue
		}
		lines, hidden := splitDetails(r.Details, maxDetailLines)
		for _, line := range lines {
			sb.WriteString("    " + line + "\n")
		}
		if hidden > 0 {
			fmt.Fprintf(&sb, "    ... %d more lines\n", hidden)
		}
	}
	return sb.String()
}

func (p *Plain) renderSparkline(s *pattern.Sparkline) string {
	if len(s.Values) == 0 {
		return ""
	}
	latest := s.Values[len(s.Values)-1]
	label := ""
	if s.Label != "" {
		label = s.Label + ": "
	}
	return fmt.Sprintf("%s%s %.1f%s\n", label, spark(s), latest, s.Unit)
}

func statusWord(status string) string {
	switch status {
	case pattern.StatusPass:
		return "PASS"
	case pattern.StatusFail:
		return "FAIL"
	case pattern.StatusSkip:
		return "SKIP"
	default:
		return "INFO"
	}
}
