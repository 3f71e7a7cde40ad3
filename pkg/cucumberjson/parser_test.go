package cucumberjson

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const report = `[
  {
    "uri": "features/login.feature",
    "name": "User login",
    "elements": [
      {
        "type": "background",
        "name": "",
        "steps": [{"keyword": "Given ", "name": "the app is open", "result": {"status": "passed", "duration": 1000}}]
      },
      {
        "type": "scenario",
        "name": "Valid login",
        "line": 5,
        "tags": [{"name": "@Login"}, {"name": "@SHOP-12"}],
        "steps": [
          {"keyword": "Before", "hidden": true, "result": {"status": "passed", "duration": 500000000}},
          {"keyword": "Given ", "name": "the login page", "result": {"status": "passed", "duration": 1000000000}},
          {"keyword": "Then ", "name": "the home page is shown", "result": {"status": "passed", "duration": 250000000}}
        ]
      },
      {
        "type": "scenario",
        "name": "Locked account",
        "line": 12,
        "tags": [{"name": "@SHOP-13"}],
        "steps": [
          {"keyword": "Given ", "name": "a locked user", "result": {"status": "failed", "duration": 2000000000, "error_message": "l1\nl2\nl3\nl4\nl5\nl6"}},
          {"keyword": "Then ", "name": "an error is shown", "result": {"status": "skipped"}}
        ]
      }
    ]
  },
  {
    "uri": "features/cart.feature",
    "name": "Cart",
    "elements": [
      {
        "keyword": "Scenario",
        "name": "Pending cart step",
        "steps": [{"keyword": "When ", "name": "something undefined", "result": {"status": "undefined"}}]
      }
    ]
  }
]`

func TestSummarize_NormalizesScenarios(t *testing.T) {
	features, err := ParseBytes([]byte(report))
	if err != nil {
		t.Fatal(err)
	}
	results := Summarize(features)
	if len(results) != 3 {
		t.Fatalf("expected 3 scenarios (background skipped), got %d", len(results))
	}

	ok := results[0]
	if ok.Status != StatusPassed || !ok.Passed() {
		t.Errorf("expected Valid login passed, got %s", ok.Status)
	}
	if len(ok.Steps) != 2 {
		t.Errorf("expected hidden hook to be skipped, got %d steps", len(ok.Steps))
	}
	if ok.Duration != 1750*time.Millisecond {
		t.Errorf("expected duration 1.75s including hooks, got %s", ok.Duration)
	}
	if strings.Join(ok.Tags, ",") != "@Login,@SHOP-12" {
		t.Errorf("unexpected tags %v", ok.Tags)
	}

	bad := results[1]
	if bad.Status != StatusFailed {
		t.Errorf("expected Locked account failed, got %s", bad.Status)
	}
	if bad.Error != "l1\nl2\nl3\nl4\nl5" {
		t.Errorf("expected first five error lines, got %q", bad.Error)
	}

	pending := results[2]
	if pending.Status != StatusSkipped {
		t.Errorf("expected undefined step to mark scenario skipped, got %s", pending.Status)
	}
	if pending.Feature != "Cart" {
		t.Errorf("expected feature name Cart, got %s", pending.Feature)
	}
}

func TestComputeStats_CountsScenariosAndSteps(t *testing.T) {
	features, err := ParseBytes([]byte(report))
	if err != nil {
		t.Fatal(err)
	}
	s := ComputeStats(Summarize(features))

	if s.Features != 2 {
		t.Errorf("expected 2 features, got %d", s.Features)
	}
	if s.TotalScenarios != 3 || s.Passed != 1 || s.Failed != 1 || s.Skipped != 1 {
		t.Errorf("unexpected scenario counts: %+v", s)
	}
	if s.TotalSteps != 5 || s.PassedSteps != 2 || s.FailedSteps != 1 || s.SkippedSteps != 1 {
		t.Errorf("unexpected step counts: %+v", s)
	}
	if s.PassRate != 33.3 {
		t.Errorf("expected pass rate 33.3, got %v", s.PassRate)
	}
}

func TestParseBytes_EmptyReport(t *testing.T) {
	for _, in := range []string{"", "  \n", "[]"} {
		features, err := ParseBytes([]byte(in))
		if err != nil {
			t.Fatalf("input %q: %v", in, err)
		}
		if got := Summary(features); got.Stats.TotalScenarios != 0 || got.Scenarios == nil {
			t.Errorf("input %q: expected empty non-nil report, got %+v", in, got)
		}
	}
}

func TestParseBytes_RejectsMalformedJSON(t *testing.T) {
	if _, err := ParseBytes([]byte(`{"not": "an array"`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestParseFile_ReportsMissingFile(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "test_results.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestParseFile_ReadsReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test_results.json")
	if err := os.WriteFile(path, []byte(report), 0o600); err != nil {
		t.Fatal(err)
	}
	features, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(features))
	}
}
