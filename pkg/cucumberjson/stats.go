package cucumberjson

import "time"

// Stats holds aggregate statistics across all scenarios of a report.
type Stats struct {
	Features       int           `json:"features"`
	TotalScenarios int           `json:"totalScenarios"`
	Passed         int           `json:"passedScenarios"`
	Failed         int           `json:"failedScenarios"`
	Skipped        int           `json:"skippedScenarios"`
	TotalSteps     int           `json:"totalSteps"`
	PassedSteps    int           `json:"passedSteps"`
	FailedSteps    int           `json:"failedSteps"`
	SkippedSteps   int           `json:"skippedSteps"`
	Duration       time.Duration `json:"duration"`
	PassRate       float64       `json:"passRate"`
}

// ComputeStats aggregates scenario results. Features counts distinct
// feature URIs among them.
func ComputeStats(results []ScenarioResult) Stats {
	var s Stats
	seen := make(map[string]bool)
	for _, r := range results {
		key := r.URI + "\x00" + r.Feature
		if !seen[key] {
			seen[key] = true
			s.Features++
		}
		s.TotalScenarios++
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		default:
			s.Skipped++
		}
		for _, st := range r.Steps {
			s.TotalSteps++
			switch st.Status {
			case StatusPassed:
				s.PassedSteps++
			case StatusFailed:
				s.FailedSteps++
			case StatusSkipped:
				s.SkippedSteps++
			}
		}
		s.Duration += r.Duration
	}
	if s.TotalScenarios > 0 {
		rate := float64(s.Passed) / float64(s.TotalScenarios) * 100
		// one decimal, as shown on the dashboard
		s.PassRate = float64(int(rate*10+0.5)) / 10
	}
	return s
}

// Report is the summary served for the last run.
type Report struct {
	Stats     Stats            `json:"stats"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

// Summary builds the report for parsed features.
func Summary(features []Feature) Report {
	results := Summarize(features)
	if results == nil {
		results = []ScenarioResult{}
	}
	return Report{Stats: ComputeStats(results), Scenarios: results}
}
