package tracker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dkoosis/cukedash/internal/execution"
	"github.com/dkoosis/cukedash/internal/registry"
	"github.com/dkoosis/cukedash/pkg/cucumberjson"
)

// Outcome labels used in comments and sync results.
const (
	OutcomePassed = "PASSED"
	OutcomeFailed = "FAILED"
)

// CountIssues sets IssueCount on every module to the number of issues whose
// summary or description mentions the module name or id.
func CountIssues(modules []registry.Module, issues []Issue) {
	for i := range modules {
		keywords := []string{strings.ToLower(modules[i].Name), strings.ToLower(modules[i].ID)}
		n := 0
		for _, issue := range issues {
			summary := strings.ToLower(issue.Summary)
			desc := strings.ToLower(issue.Description)
			for _, kw := range keywords {
				if kw != "" && (strings.Contains(summary, kw) || strings.Contains(desc, kw)) {
					n++
					break
				}
			}
		}
		modules[i].IssueCount = n
	}
}

// Enrich fills in issue counts. Tracker failures are logged and leave the
// counts at zero; the module list is never withheld because of them.
func (c *Client) Enrich(ctx context.Context, modules []registry.Module) []registry.Module {
	if !c.Enabled() {
		return modules
	}
	issues, err := c.SearchIssues(ctx)
	if err != nil {
		c.logger.Warn("fetching issues for module enrichment failed", "error", err)
		return modules
	}
	CountIssues(modules, issues)
	return modules
}

// SyncResult records what was posted for one tagged scenario.
type SyncResult struct {
	IssueKey      string        `json:"issueKey"`
	Name          string        `json:"name"`
	Outcome       string        `json:"status"`
	ExecutionTime time.Duration `json:"executionTime"`
	Transitioned  bool          `json:"transitioned"`
	Err           error         `json:"-"`
}

// IssueKey returns the first tag of the form @<project>-<n> without the @.
func IssueKey(tags []string, project string) (string, bool) {
	if project == "" {
		return "", false
	}
	prefix := "@" + project + "-"
	for _, t := range tags {
		if strings.HasPrefix(t, prefix) && len(t) > len(prefix) {
			return t[1:], true
		}
	}
	return "", false
}

// SyncResults comments each issue-tagged scenario's outcome on its issue
// and transitions it: Done on pass, In Progress on fail. A failure on one
// issue does not stop the others; it is recorded in that SyncResult.
func (c *Client) SyncResults(ctx context.Context, features []cucumberjson.Feature, now time.Time) ([]SyncResult, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	var out []SyncResult
	for _, sc := range cucumberjson.Summarize(features) {
		key, ok := IssueKey(sc.Tags, c.cfg.ProjectKey)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		res := SyncResult{IssueKey: key, Name: sc.Name, Outcome: OutcomeFailed, ExecutionTime: sc.Duration}
		target := "In Progress"
		if sc.Passed() {
			res.Outcome = OutcomePassed
			target = "Done"
		}

		if err := c.AddComment(ctx, key, CommentBody(res.Outcome, sc.Duration, sc.Error, now)); err != nil {
			res.Err = err
			c.logger.Warn("posting result comment failed", "issue", key, "error", err)
			out = append(out, res)
			continue
		}
		moved, err := c.Transition(ctx, key, target)
		if err != nil {
			c.logger.Info("could not transition issue", "issue", key, "target", target, "error", err)
		}
		res.Transitioned = moved
		out = append(out, res)
	}
	return out, nil
}

// SyncFile syncs the results file at path. A missing file is not an error.
func (c *Client) SyncFile(ctx context.Context, path string) ([]SyncResult, error) {
	features, err := cucumberjson.ParseFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.SyncResults(ctx, features, time.Now())
}

// CommentBody renders the result comment posted on an issue.
func CommentBody(outcome string, d time.Duration, errMsg string, now time.Time) string {
	var b strings.Builder
	mark := "❌"
	if outcome == OutcomePassed {
		mark = "✅"
	}
	fmt.Fprintf(&b, "%s Test Execution Result\n", mark)
	fmt.Fprintf(&b, "Status: %s\n", outcome)
	fmt.Fprintf(&b, "Execution Time: %.2fs\n", d.Seconds())
	fmt.Fprintf(&b, "Timestamp: %s\n", now.Format(time.RFC1123))
	if errMsg != "" {
		fmt.Fprintf(&b, "\nError:\n%s", errMsg)
	}
	return b.String()
}

// OnComplete returns a post-run hook that syncs the results file at path.
func (c *Client) OnComplete(path string) execution.CompleteFunc {
	return func(ctx context.Context, rec execution.Record) error {
		if !c.Enabled() {
			return nil
		}
		results, err := c.SyncFile(ctx, path)
		if err != nil {
			return fmt.Errorf("sync results of %s: %w", rec.ID, err)
		}
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		c.logger.Info("results synced to issue tracker", "execution", rec.ID, "issues", len(results), "failed", failed)
		return nil
	}
}
