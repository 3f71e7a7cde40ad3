package cucumberjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// maxErrorLen bounds a step error kept in a StepResult.
const maxErrorLen = 300

// Parse decodes a report from r. An empty input is an empty report, which
// cucumber-js writes when no scenario matched the tag expression.
func Parse(r io.Reader) ([]Feature, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading cucumber report: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes is a convenience for parsing from a byte slice.
func ParseBytes(data []byte) ([]Feature, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var features []Feature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, fmt.Errorf("decoding cucumber report: %w", err)
	}
	return features, nil
}

// ParseFile reads and parses the report at path. A missing file is returned
// as an error wrapping os.ErrNotExist.
func ParseFile(path string) ([]Feature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Summarize flattens features into one result per scenario, in report
// order. Backgrounds and hidden hook steps are skipped.
func Summarize(features []Feature) []ScenarioResult {
	var out []ScenarioResult
	for _, f := range features {
		for _, e := range f.Elements {
			if !e.IsScenario() {
				continue
			}
			out = append(out, summarizeElement(f, e))
		}
	}
	return out
}

func summarizeElement(f Feature, e Element) ScenarioResult {
	res := ScenarioResult{
		Feature: f.Name,
		URI:     f.URI,
		Name:    e.Name,
		Line:    e.Line,
		Tags:    e.TagNames(),
		Steps:   []StepResult{},
	}
	if res.Feature == "" {
		res.Feature = "Unknown"
	}
	failed, allPassed := false, true
	for _, s := range e.Steps {
		// hooks count toward time, never toward status
		res.Duration += time.Duration(s.Result.Duration)
		if s.Hidden {
			continue
		}
		status := s.Result.Status
		if status == "" {
			status = "unknown"
		}
		res.Steps = append(res.Steps, StepResult{
			Keyword: strings.TrimSpace(s.Keyword),
			Name:    s.Name,
			Status:  status,
			Error:   truncate(s.Result.ErrorMessage, maxErrorLen),
		})
		switch status {
		case StatusPassed:
		case StatusFailed:
			failed = true
			allPassed = false
			if res.Error == "" {
				res.Error = firstLines(s.Result.ErrorMessage, 5)
			}
		default:
			allPassed = false
		}
	}
	switch {
	case failed:
		res.Status = StatusFailed
	case allPassed && len(res.Steps) > 0:
		res.Status = StatusPassed
	default:
		res.Status = StatusSkipped
	}
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// firstLines returns at most n leading lines of s.
func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
