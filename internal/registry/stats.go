package registry

import "github.com/dkoosis/cukedash/pkg/gherkin"

// Stats summarizes a set of modules for the dashboard header.
type Stats struct {
	TotalModules   int               `json:"totalModules"`
	ReadyModules   int               `json:"readyModules"`
	TotalScenarios int               `json:"totalScenarios"`
	TotalIssues    int               `json:"totalJiraStories"`
	Priority       PriorityCounts    `json:"priorityBreakdown"`
	Suites         SuiteCounts       `json:"tagBreakdown"`
	Estimated      map[string]string `json:"estimatedExecutionTime"`
}

// SuiteCounts counts scenarios that belong to a suite, either through their
// own tags or through the feature's tags.
type SuiteCounts struct {
	Regression int `json:"regression"`
	Sanity     int `json:"sanity"`
}

// ComputeStats aggregates modules. Feature-level suite tags apply to every
// scenario of the feature.
func ComputeStats(modules []Module) Stats {
	st := Stats{TotalModules: len(modules)}
	for _, m := range modules {
		if m.Status == StatusReady {
			st.ReadyModules++
		}
		st.TotalScenarios += m.ScenarioCount
		st.TotalIssues += m.IssueCount
		st.Priority.P1 += m.PriorityCounts.P1
		st.Priority.P2 += m.PriorityCounts.P2
		st.Priority.P3 += m.PriorityCounts.P3
		st.Priority.Untagged += m.PriorityCounts.Untagged

		featureRegression := gherkin.HasTag(m.Tags, gherkin.TagRegression)
		featureSanity := gherkin.HasTag(m.Tags, gherkin.TagSanity)
		for _, s := range m.Scenarios {
			if featureRegression || s.IsRegression {
				st.Suites.Regression++
			}
			if featureSanity || s.IsSanity {
				st.Suites.Sanity++
			}
		}
	}
	st.Estimated = map[string]string{
		"regression": FormatEstimate(Estimate(st.Suites.Regression)),
		"sanity":     FormatEstimate(Estimate(st.Suites.Sanity)),
		"p1":         FormatEstimate(Estimate(st.Priority.P1)),
		"p2":         FormatEstimate(Estimate(st.Priority.P2)),
		"p3":         FormatEstimate(Estimate(st.Priority.P3)),
	}
	return st
}
