package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dkoosis/cukedash/internal/execution"
	"github.com/dkoosis/cukedash/internal/registry"
	"github.com/dkoosis/cukedash/pkg/cucumberjson"
	"github.com/dkoosis/cukedash/pkg/gherkin"
	"github.com/dkoosis/cukedash/pkg/pattern"
)

// topTags caps the tag leaderboard.
const topTags = 10

func modulePatterns(modules []registry.Module) []pattern.Pattern {
	st := registry.ComputeStats(modules)
	summary := &pattern.Summary{
		Label: "Modules",
		Kind:  pattern.SummaryKindModules,
		Metrics: []pattern.SummaryItem{
			{Label: "Modules", Value: strconv.Itoa(st.TotalModules), Kind: "info"},
			{Label: "Scenarios", Value: strconv.Itoa(st.TotalScenarios), Kind: "info"},
			{Label: "P1", Value: strconv.Itoa(st.Priority.P1), Kind: "info"},
			{Label: "P2", Value: strconv.Itoa(st.Priority.P2), Kind: "info"},
			{Label: "P3", Value: strconv.Itoa(st.Priority.P3), Kind: "info"},
			{Label: "Untagged", Value: strconv.Itoa(st.Priority.Untagged), Kind: untaggedKind(st.Priority.Untagged)},
			{Label: "Regression estimate", Value: st.Estimated["regression"], Kind: "info"},
		},
	}
	if st.TotalIssues > 0 {
		summary.Metrics = append(summary.Metrics,
			pattern.SummaryItem{Label: "Issues", Value: strconv.Itoa(st.TotalIssues), Kind: "info"})
	}

	table := &pattern.TestTable{Label: "Modules"}
	for _, m := range modules {
		details := m.Tag + "  est. " + m.EstimatedTime
		if m.IssueCount > 0 {
			details += fmt.Sprintf("  issues: %d", m.IssueCount)
		}
		table.Results = append(table.Results, pattern.TestTableItem{
			Name:    fmt.Sprintf("%s (%s)", m.Name, m.ID),
			Status:  pattern.StatusInfo,
			Count:   m.ScenarioCount,
			Details: details,
		})
	}

	return []pattern.Pattern{summary, table, tagLeaderboard(modules)}
}

// tagLeaderboard ranks scenario tags by how many scenarios carry them.
// Ties are broken by name so output is stable.
func tagLeaderboard(modules []registry.Module) *pattern.Leaderboard {
	counts := make(map[string]int)
	for _, m := range modules {
		for _, s := range m.Scenarios {
			for _, tag := range s.Tags {
				counts[tag]++
			}
		}
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})

	lb := &pattern.Leaderboard{Label: "Tags", MetricName: "Scenarios", TotalCount: len(tags), ShowRank: true}
	for i, tag := range tags {
		if i == topTags {
			break
		}
		lb.Items = append(lb.Items, pattern.LeaderboardItem{
			Name:   tag,
			Metric: strconv.Itoa(counts[tag]),
			Value:  float64(counts[tag]),
			Rank:   i + 1,
		})
	}
	return lb
}

func auditPatterns(untagged []gherkin.Untagged) []pattern.Pattern {
	summary := &pattern.Summary{
		Label: "Priority audit",
		Kind:  pattern.SummaryKindAudit,
		Metrics: []pattern.SummaryItem{
			{Label: "Untagged scenarios", Value: strconv.Itoa(len(untagged)), Kind: untaggedKind(len(untagged))},
		},
	}
	table := &pattern.TestTable{Label: "Missing @P1/@P2/@P3/@Sanity"}
	for _, u := range untagged {
		table.Results = append(table.Results, pattern.TestTableItem{
			Name:    fmt.Sprintf("%s:%d %s", u.File, u.Line, u.Name),
			Status:  pattern.StatusSkip,
			Details: strings.Join(u.Tags, " "),
		})
	}
	return []pattern.Pattern{summary, table}
}

func resultPatterns(report cucumberjson.Report) []pattern.Pattern {
	st := report.Stats
	failKind := "success"
	if st.Failed > 0 {
		failKind = "error"
	}
	summary := &pattern.Summary{
		Label: "Results",
		Kind:  pattern.SummaryKindResults,
		Metrics: []pattern.SummaryItem{
			{Label: "Features", Value: strconv.Itoa(st.Features), Kind: "info"},
			{Label: "Scenarios", Value: strconv.Itoa(st.TotalScenarios), Kind: "info"},
			{Label: "Passed", Value: strconv.Itoa(st.Passed), Kind: "success"},
			{Label: "Failed", Value: strconv.Itoa(st.Failed), Kind: failKind},
			{Label: "Skipped", Value: strconv.Itoa(st.Skipped), Kind: "warning"},
			{Label: "Pass rate", Value: fmt.Sprintf("%.1f%%", st.PassRate), Kind: "info"},
			{Label: "Duration", Value: formatSeconds(st.Duration), Kind: "info"},
		},
	}

	table := &pattern.TestTable{Label: "Scenarios"}
	for _, r := range report.Scenarios {
		item := pattern.TestTableItem{
			Name:     r.Feature + ": " + r.Name,
			Status:   resultStatus(r.Status),
			Duration: formatSeconds(r.Duration),
		}
		if r.Status == cucumberjson.StatusFailed {
			item.Details = r.Error
		}
		table.Results = append(table.Results, item)
	}
	return []pattern.Pattern{summary, table}
}

func executionPatterns(rec execution.Record) *pattern.Summary {
	kind := "success"
	switch rec.Status {
	case execution.StatusFailed:
		kind = "error"
	case execution.StatusStopped:
		kind = "warning"
	}
	s := &pattern.Summary{
		Label: "Execution " + rec.ID,
		Kind:  pattern.SummaryKindExecution,
		Metrics: []pattern.SummaryItem{
			{Label: "Status", Value: string(rec.Status), Kind: kind},
			{Label: "Tags", Value: rec.TagExpression, Kind: "info"},
			{Label: "Duration", Value: formatSeconds(rec.Duration()), Kind: "info"},
		},
	}
	if rec.ExitCode != nil {
		s.Metrics = append(s.Metrics,
			pattern.SummaryItem{Label: "Exit code", Value: strconv.Itoa(*rec.ExitCode), Kind: kind})
	}
	return s
}

// historyPatterns lists records newest first and plots durations oldest
// to newest.
func historyPatterns(records []execution.Record) []pattern.Pattern {
	table := &pattern.TestTable{Label: "Executions"}
	durations := make([]float64, len(records))
	for i, rec := range records {
		table.Results = append(table.Results, pattern.TestTableItem{
			Name:     rec.StartTime.Local().Format(time.DateTime) + " " + strings.Join(rec.Modules, ","),
			Status:   recordStatus(rec.Status),
			Duration: formatSeconds(rec.Duration()),
			Details:  rec.TagExpression,
		})
		durations[len(records)-1-i] = rec.Duration().Seconds()
	}
	return []pattern.Pattern{
		table,
		&pattern.Sparkline{Label: "Duration", Values: durations, Unit: "s"},
	}
}

func untaggedKind(n int) string {
	if n > 0 {
		return "warning"
	}
	return "success"
}

func resultStatus(s string) string {
	switch s {
	case cucumberjson.StatusPassed:
		return pattern.StatusPass
	case cucumberjson.StatusFailed:
		return pattern.StatusFail
	default:
		return pattern.StatusSkip
	}
}

func recordStatus(s execution.Status) string {
	switch s {
	case execution.StatusPassed:
		return pattern.StatusPass
	case execution.StatusFailed:
		return pattern.StatusFail
	case execution.StatusStopped:
		return pattern.StatusSkip
	default:
		return pattern.StatusInfo
	}
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
