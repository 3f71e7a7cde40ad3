// Package gherkin extracts scenarios and their tags from Cucumber feature files.
//
// It is a line scanner, not a full Gherkin parser: it understands tag lines,
// the Feature declaration, scenario declarations and the structural keywords
// that can carry their own tags (Background, Rule, Examples). Everything else
// is step or free text and is ignored except for scenario descriptions.
package gherkin

import (
	"encoding/json"
	"strings"
)

// Priority is the execution priority derived from a scenario's tags.
type Priority string

const (
	// PriorityNone marks a scenario with no priority or sanity tag.
	PriorityNone Priority = ""
	P1           Priority = "P1"
	P2           Priority = "P2"
	P3           Priority = "P3"
)

// MarshalJSON renders PriorityNone as null so API consumers can tell
// "untagged" apart from a real priority.
func (p Priority) MarshalJSON() ([]byte, error) {
	if p == PriorityNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(p))
}

// UnmarshalJSON accepts null or a priority string.
func (p *Priority) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = PriorityNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = Priority(s)
	return nil
}

// Tags with fixed meaning.
const (
	TagP1         = "@P1"
	TagP2         = "@P2"
	TagP3         = "@P3"
	TagSanity     = "@Sanity"
	TagRegression = "@Regression"
	TagSmoke      = "@Smoke"
)

// Scenario is one scenario declaration together with the tags that
// preceded it. Values are created once per parse and never mutated.
type Scenario struct {
	Name          string   `json:"name"`
	Tags          []string `json:"tags"`
	Priority      Priority `json:"priority"`
	IsSanity      bool     `json:"isSanity"`
	IsRegression  bool     `json:"isRegression"`
	Description   string   `json:"description,omitempty"`
	SourceFeature string   `json:"sourceFeature"`
	SourceLine    int      `json:"sourceLine"`
}

// HasTag reports whether the scenario carries tag (case-insensitive).
func (s Scenario) HasTag(tag string) bool {
	return HasTag(s.Tags, tag)
}

// Feature is the parsed view of one feature file.
type Feature struct {
	File        string     `json:"file"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Line        int        `json:"line"`
	Tags        []string   `json:"tags"`
	Scenarios   []Scenario `json:"scenarios"`
}

// HasTag reports whether the feature-level tags include tag (case-insensitive).
func (f Feature) HasTag(tag string) bool {
	return HasTag(f.Tags, tag)
}

// DerivePriority applies the fixed precedence P1/Sanity > P2 > P3.
func DerivePriority(tags []string) Priority {
	switch {
	case HasTag(tags, TagP1) || HasTag(tags, TagSanity):
		return P1
	case HasTag(tags, TagP2):
		return P2
	case HasTag(tags, TagP3):
		return P3
	default:
		return PriorityNone
	}
}

// HasTag reports whether tags contains tag, compared case-insensitively.
func HasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, tags ...string) []string {
	for _, t := range tags {
		if !HasTag(dst, t) {
			dst = append(dst, t)
		}
	}
	return dst
}
