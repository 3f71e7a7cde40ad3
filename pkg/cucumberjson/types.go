// Package cucumberjson reads the report written by cucumber-js
// --format json:<file> and summarizes it per scenario.
package cucumberjson

import (
	"strings"
	"time"
)

// Step and scenario statuses as written by cucumber-js.
const (
	StatusPassed    = "passed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusUndefined = "undefined"
	StatusPending   = "pending"
)

// Feature is one top-level entry of the report.
type Feature struct {
	URI      string    `json:"uri"`
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Keyword  string    `json:"keyword"`
	Line     int       `json:"line"`
	Tags     []Tag     `json:"tags"`
	Elements []Element `json:"elements"`
}

// Element is a scenario or background.
type Element struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Keyword string `json:"keyword"`
	Type    string `json:"type"` // "scenario" or "background"
	Line    int    `json:"line"`
	Tags    []Tag  `json:"tags"`
	Steps   []Step `json:"steps"`
}

// Tag is a tag attached to a feature or element.
type Tag struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

// Step is one step or hook of an element.
type Step struct {
	Keyword string `json:"keyword"`
	Name    string `json:"name"`
	Line    int    `json:"line"`
	Hidden  bool   `json:"hidden"`
	Result  Result `json:"result"`
}

// Result holds a step outcome. Duration is in nanoseconds.
type Result struct {
	Status       string `json:"status"`
	Duration     int64  `json:"duration"`
	ErrorMessage string `json:"error_message"`
}

// ScenarioResult is the normalized outcome of one scenario.
type ScenarioResult struct {
	Feature  string        `json:"feature"`
	URI      string        `json:"uri"`
	Name     string        `json:"name"`
	Line     int           `json:"line"`
	Tags     []string      `json:"tags"`
	Status   string        `json:"status"` // passed, failed or skipped
	Duration time.Duration `json:"duration"`
	Steps    []StepResult  `json:"steps"`
	Error    string        `json:"error,omitempty"`
}

// StepResult is the normalized outcome of one visible step.
type StepResult struct {
	Keyword string `json:"keyword"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// IsScenario reports whether the element is a scenario rather than a
// background. Older formatters leave Type empty and only set Keyword.
func (e Element) IsScenario() bool {
	if e.Type != "" {
		return e.Type == "scenario"
	}
	return strings.HasPrefix(strings.TrimSpace(e.Keyword), "Scenario")
}

// TagNames returns the element's tag names.
func (e Element) TagNames() []string {
	names := make([]string, 0, len(e.Tags))
	for _, t := range e.Tags {
		names = append(names, t.Name)
	}
	return names
}

// Passed reports whether the scenario passed.
func (r ScenarioResult) Passed() bool {
	return r.Status == StatusPassed
}
