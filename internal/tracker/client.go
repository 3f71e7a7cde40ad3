// Package tracker talks to a Jira instance: it counts the issues that
// mention each module and posts run results back to the issues a scenario
// is tagged with.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkoosis/cukedash/internal/config"
)

// ErrDisabled is returned by calls made on a client without credentials.
var ErrDisabled = errors.New("issue tracker not configured")

const (
	defaultTimeout = 30 * time.Second
	maxResults     = 100
)

// Issue is the subset of a Jira issue the dashboard uses.
type Issue struct {
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Client is a minimal Jira REST client.
type Client struct {
	cfg    config.JiraConfig
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for cfg. A client built from incomplete settings is
// valid but disabled.
func New(cfg config.JiraConfig, opts ...Option) *Client {
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the client has enough settings to make calls.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.URL != "" && c.cfg.Email != "" && c.cfg.APIToken != ""
}

// ProjectKey is the configured project key, used to recognize issue tags.
func (c *Client) ProjectKey() string {
	return c.cfg.ProjectKey
}

type searchRequest struct {
	JQL        string   `json:"jql"`
	MaxResults int      `json:"maxResults"`
	Fields     []string `json:"fields"`
}

type searchResponse struct {
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary     string          `json:"summary"`
			Description json.RawMessage `json:"description"`
			Status      struct {
				Name string `json:"name"`
			} `json:"status"`
		} `json:"fields"`
	} `json:"issues"`
}

// SearchIssues returns the issues of the configured filter. When the filter
// query fails and a project key is set, it falls back to the project's
// issues, newest first.
func (c *Client) SearchIssues(ctx context.Context) ([]Issue, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	var firstErr error
	if c.cfg.FilterID != "" {
		issues, err := c.search(ctx, "filter="+c.cfg.FilterID)
		if err == nil {
			return issues, nil
		}
		c.logger.Warn("jira filter search failed", "filter", c.cfg.FilterID, "error", err)
		firstErr = err
	}
	if c.cfg.ProjectKey == "" {
		if firstErr == nil {
			firstErr = errors.New("neither filter id nor project key configured")
		}
		return nil, firstErr
	}

	issues, err := c.search(ctx, fmt.Sprintf("project = %s ORDER BY created DESC", c.cfg.ProjectKey))
	if err != nil {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, err
	}
	return issues, nil
}

func (c *Client) search(ctx context.Context, jql string) ([]Issue, error) {
	req := searchRequest{
		JQL:        jql,
		MaxResults: maxResults,
		Fields:     []string{"summary", "status", "description"},
	}
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/search/jql", req, &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", jql, err)
	}

	issues := make([]Issue, 0, len(resp.Issues))
	for _, raw := range resp.Issues {
		issues = append(issues, Issue{
			Key:         raw.Key,
			Summary:     raw.Fields.Summary,
			Description: plainText(raw.Fields.Description),
			Status:      raw.Fields.Status.Name,
		})
	}
	return issues, nil
}

// AddComment posts a plain-text comment on an issue.
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/comment"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("comment on %s: %w", key, err)
	}
	return nil
}

type transitionsResponse struct {
	Transitions []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		To   struct {
			Name string `json:"name"`
		} `json:"to"`
	} `json:"transitions"`
}

// Transition moves an issue through the first transition whose name or
// target status contains status (case-insensitive). It returns false when
// no transition matched.
func (c *Client) Transition(ctx context.Context, key, status string) (bool, error) {
	if !c.Enabled() {
		return false, ErrDisabled
	}
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/transitions"

	var available transitionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &available); err != nil {
		return false, fmt.Errorf("list transitions of %s: %w", key, err)
	}

	want := strings.ToLower(status)
	for _, t := range available.Transitions {
		if strings.Contains(strings.ToLower(t.Name), want) || strings.Contains(strings.ToLower(t.To.Name), want) {
			body := map[string]any{"transition": map[string]string{"id": t.ID}}
			if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
				return false, fmt.Errorf("transition %s to %s: %w", key, status, err)
			}
			return true, nil
		}
	}
	return false, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Email, c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// plainText flattens an issue description. API v3 returns Atlassian
// Document Format; older servers return a string.
func plainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var parts []string
	collectText(doc, &parts)
	return strings.Join(parts, " ")
}

func collectText(node any, parts *[]string) {
	switch n := node.(type) {
	case map[string]any:
		if t, ok := n["text"].(string); ok {
			*parts = append(*parts, t)
		}
		if content, ok := n["content"].([]any); ok {
			for _, child := range content {
				collectText(child, parts)
			}
		}
	case []any:
		for _, child := range n {
			collectText(child, parts)
		}
	}
}
