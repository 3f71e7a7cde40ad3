package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoosis/cukedash/internal/execution"
	"github.com/dkoosis/cukedash/internal/registry"
)

func features() fstest.MapFS {
	return fstest.MapFS{
		"login.feature": {Data: []byte(`@Login @Regression
Feature: Login

  @P1 @Sanity
  Scenario: Valid login
    Given I am on the login page

  Scenario: Forgot password
    When I ask for a reset link
`)},
		"cart.feature": {Data: []byte(`@Cart
Feature: Cart

  @P2
  Scenario: Add item
    Given an empty cart
`)},
	}
}

type countEnricher struct{ n int }

func (e countEnricher) Enrich(_ context.Context, mods []registry.Module) []registry.Module {
	for i := range mods {
		mods[i].IssueCount = e.n
	}
	return mods
}

type staticArchive []execution.Record

func (a staticArchive) List(context.Context, int) ([]execution.Record, error) { return a, nil }

type fixture struct {
	srv     *httptest.Server
	service *execution.Service
	cfg     Config
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// newFixture serves the handlers with a runner that executes script.
func newFixture(t *testing.T, script string, mutate ...func(*Config, *Deps)) *fixture {
	t.Helper()
	reg := registry.NewFS(features())
	svc := execution.NewService(reg,
		execution.WithLogger(discard()),
		execution.WithRunner(execution.RunnerConfig{Command: "sh", Args: []string{"-c", script, "runner"}}),
		execution.WithKillGrace(200*time.Millisecond),
	)
	cfg := DefaultConfig()
	cfg.ResultsFile = filepath.Join(t.TempDir(), "test_results.json")
	cfg.KeepAlive = 50 * time.Millisecond
	deps := Deps{Modules: reg, Service: svc, Logger: discard()}
	for _, m := range mutate {
		m(&cfg, &deps)
	}

	s, err := NewServer(cfg, deps)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = deps.Service.Shutdown(ctx)
		ts.Close()
	})
	return &fixture{srv: ts, service: deps.Service, cfg: cfg}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) wait(t *testing.T, id string) execution.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := f.service.Wait(ctx, id)
	require.NoError(t, err)
	return rec
}

func TestModules_ListsEnrichedModules(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 0", func(_ *Config, d *Deps) { d.Tracker = countEnricher{n: 2} })

	var body struct {
		Modules []registry.Module `json:"modules"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/modules", &body))
	require.Len(t, body.Modules, 2)
	assert.Equal(t, "cart", body.Modules[0].ID)
	assert.Equal(t, "login", body.Modules[1].ID)
	assert.Equal(t, 2, body.Modules[1].IssueCount)
	assert.Equal(t, 2, body.Modules[1].ScenarioCount)
}

func TestModuleStats_AggregatesModules(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 0")
	var st registry.Stats
	require.Equal(t, http.StatusOK, f.get(t, "/api/modules/stats", &st))
	assert.Equal(t, 2, st.TotalModules)
	assert.Equal(t, 3, st.TotalScenarios)
	assert.Equal(t, 1, st.Priority.P1)
	assert.Equal(t, 2, st.Suites.Regression)
	assert.Equal(t, 1, st.Suites.Sanity)
}

func TestModuleScenarios_Returns404_When_ModuleUnknown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 0")
	var errBody errorBody
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/modules/nope/scenarios", &errBody))
	assert.Equal(t, "Module not found", errBody.Error)

	var ok struct {
		Scenarios []map[string]any `json:"scenarios"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/modules/login/scenarios", &ok))
	require.Len(t, ok.Scenarios, 2)
	assert.Equal(t, "P1", ok.Scenarios[0]["priority"])
	assert.Nil(t, ok.Scenarios[1]["priority"])
}

func TestUntagged_ListsScenariosWithoutPriority(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 0")
	var body struct {
		Count     int `json:"count"`
		Scenarios []struct {
			Name string `json:"name"`
		} `json:"scenarios"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/audit/untagged", &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "Forgot password", body.Scenarios[0].Name)
}

func TestRun_RejectsBadRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 0")
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{", "Invalid request body"},
		{"missing modules", `{"headless":true}`, "No modules specified"},
		{"empty modules", `{"modules":[]}`, "No modules specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errBody errorBody
			assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/tests/run", tt.body, &errBody))
			assert.Equal(t, tt.want, errBody.Error)
		})
	}
}

func TestRun_StartsExecution_And_ReportsStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `echo "tags=$2"; echo "headless=$HEADLESS"`)

	var started runResponse
	require.Equal(t, http.StatusOK, f.post(t, "/api/tests/run",
		`{"modules":["login","cart"],"headless":false,"tags":"@P1"}`, &started))
	assert.Equal(t, "started", started.Status)
	assert.Equal(t, "(@Login or @Cart) and (@P1)", started.TagExpression)
	assert.Equal(t, "Test execution started for modules: login, cart", started.Message)
	require.True(t, strings.HasPrefix(started.ExecutionID, "exec_"))

	f.wait(t, started.ExecutionID)

	var st statusResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/tests/execution/"+started.ExecutionID, &st))
	assert.Equal(t, execution.StatusPassed, st.Status)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 0, *st.ExitCode)
	assert.Contains(t, st.LogTail, "tags=(@Login or @Cart) and (@P1)")
	assert.Contains(t, st.LogTail, "headless=false")
	assert.NotNil(t, st.EndTime)
}

func TestRun_UsesConfiguredHeadless_When_RequestOmitsIt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `echo "headless=$HEADLESS"`, func(c *Config, _ *Deps) { c.Headless = false })

	var started runResponse
	require.Equal(t, http.StatusOK, f.post(t, "/api/tests/run", `{"modules":["cart"]}`, &started))
	f.wait(t, started.ExecutionID)

	var st statusResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/tests/execution/"+started.ExecutionID, &st))
	assert.Contains(t, st.LogTail, "headless=false")
}

func TestRun_KeepsWholeModules_When_OnlySomeHaveSelectedScenarios(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `for a in "$@"; do echo "arg=$a"; done`)

	var started runResponse
	require.Equal(t, http.StatusOK, f.post(t, "/api/tests/run",
		`{"modules":["login","cart"],"selectedScenarios":{"login":["Valid login"]}}`, &started))
	f.wait(t, started.ExecutionID)

	var st statusResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/tests/execution/"+started.ExecutionID, &st))
	assert.Contains(t, st.LogTail, "arg=^Valid login$")
	assert.Contains(t, st.LogTail, "arg=^Add item$")
	assert.NotContains(t, st.LogTail, "arg=^Forgot password$")

	var errBody errorBody
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/tests/run",
		`{"modules":["login","nope"],"selectedScenarios":{"login":["Valid login"]}}`, &errBody))
	assert.Contains(t, errBody.Error, "unknown module nope")
}

func TestRun_Returns500_When_RunnerCannotStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 0", func(_ *Config, d *Deps) {
		d.Service = execution.NewService(d.Modules.(*registry.Registry),
			execution.WithLogger(discard()),
			execution.WithRunner(execution.RunnerConfig{Command: "/nonexistent/npx"}),
		)
	})
	var errBody errorBody
	assert.Equal(t, http.StatusInternalServerError, f.post(t, "/api/tests/run", `{"modules":["login"]}`, &errBody))
	assert.NotEmpty(t, errBody.Error)
}

func TestRun_Returns409_When_AtCapacity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 0", func(_ *Config, d *Deps) {
		d.Service = execution.NewService(d.Modules.(*registry.Registry),
			execution.WithLogger(discard()),
			execution.WithRunner(execution.RunnerConfig{Command: "sh", Args: []string{"-c", "sleep 30", "runner"}}),
			execution.WithMaxConcurrent(1),
			execution.WithKillGrace(100*time.Millisecond),
		)
	})
	var first runResponse
	require.Equal(t, http.StatusOK, f.post(t, "/api/tests/run", `{"modules":["login"]}`, &first))

	var errBody errorBody
	assert.Equal(t, http.StatusConflict, f.post(t, "/api/tests/run", `{"modules":["cart"]}`, &errBody))

	var stop map[string]string
	require.Equal(t, http.StatusOK, f.post(t, "/api/tests/execution/"+first.ExecutionID+"/stop", "", &stop))
	assert.Equal(t, "Execution stopped successfully", stop["message"])
}

func TestStop_ReportsAlreadyCompleted_And_404(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 1")
	var started runResponse
	require.Equal(t, http.StatusOK, f.post(t, "/api/tests/run", `{"modules":["cart"]}`, &started))
	rec := f.wait(t, started.ExecutionID)
	assert.Equal(t, execution.StatusFailed, rec.Status)

	var msg map[string]string
	require.Equal(t, http.StatusOK, f.post(t, "/api/tests/execution/"+started.ExecutionID+"/stop", "", &msg))
	assert.Equal(t, "Execution already completed", msg["message"])

	var errBody errorBody
	assert.Equal(t, http.StatusNotFound, f.post(t, "/api/tests/execution/exec_missing/stop", "", &errBody))
	assert.Equal(t, "Execution not found", errBody.Error)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/tests/execution/exec_missing", &errBody))
}

// readStream collects SSE data frames until the server ends the response.
func readStream(t *testing.T, url string) ([]execution.Event, []string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []execution.Event
	var comments []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			var e execution.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
			events = append(events, e)
		case strings.HasPrefix(line, ":"):
			comments = append(comments, line)
		}
	}
	return events, comments
}

func TestStream_SendsConnectedReplayAndComplete(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `echo one; sleep 0.3; echo two 1>&2; exit 2`)
	var started runResponse
	require.Equal(t, http.StatusOK, f.post(t, "/api/tests/run", `{"modules":["login"]}`, &started))

	events, comments := readStream(t, f.srv.URL+"/api/tests/execution/"+started.ExecutionID+"/stream")
	require.GreaterOrEqual(t, len(events), 4)

	assert.Equal(t, execution.EventConnected, events[0].Type)
	assert.Equal(t, started.ExecutionID, events[0].ExecutionID)
	assert.Equal(t, execution.EventSystem, events[1].Type, "replay starts with the launch line")

	var messages []string
	for _, e := range events {
		if e.Type == execution.EventStdout || e.Type == execution.EventStderr {
			messages = append(messages, string(e.Type)+":"+e.Message)
		}
	}
	assert.Equal(t, []string{"stdout:one", "stderr:two"}, messages)

	last := events[len(events)-1]
	assert.Equal(t, execution.EventComplete, last.Type)
	assert.Equal(t, execution.StatusFailed, last.Status)
	require.NotNil(t, last.ExitCode)
	assert.Equal(t, 2, *last.ExitCode)
	assert.NotEmpty(t, comments, "keep-alive comments are sent while the run is quiet")
}

func TestStream_ReplaysFinishedExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `echo done`)
	var started runResponse
	require.Equal(t, http.StatusOK, f.post(t, "/api/tests/run", `{"modules":["cart"]}`, &started))
	f.wait(t, started.ExecutionID)

	events, _ := readStream(t, f.srv.URL+"/api/tests/execution/"+started.ExecutionID+"/stream")
	require.NotEmpty(t, events)
	assert.Equal(t, execution.EventConnected, events[0].Type)
	assert.Equal(t, execution.EventComplete, events[len(events)-1].Type)
	assert.Equal(t, execution.StatusPassed, events[len(events)-1].Status)
}

// stallingRecorder blocks its first Flush until release is closed, which
// stands in for a client that stops reading after the replay.
type stallingRecorder struct {
	*httptest.ResponseRecorder
	stalled chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *stallingRecorder) Flush() {
	r.once.Do(func() {
		close(r.stalled)
		<-r.release
	})
	r.ResponseRecorder.Flush()
}

func TestStream_SendsTruncatedFrame_When_ClientFallsBehind(t *testing.T) {
	t.Parallel()

	gate := filepath.Join(t.TempDir(), "go")
	script := fmt.Sprintf(`while [ ! -f %q ]; do sleep 0.01; done; seq 1 20`, gate)
	reg := registry.NewFS(features())
	svc := execution.NewService(reg,
		execution.WithLogger(discard()),
		execution.WithRunner(execution.RunnerConfig{Command: "sh", Args: []string{"-c", script, "runner"}}),
		execution.WithSubscriberBuffer(2),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	cfg := DefaultConfig()
	cfg.KeepAlive = time.Hour
	srv, err := NewServer(cfg, Deps{Modules: reg, Service: svc, Logger: discard()})
	require.NoError(t, err)

	rec, err := svc.Start(context.Background(), execution.Request{Modules: []string{"login"}})
	require.NoError(t, err)

	w := &stallingRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		stalled:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		req := httptest.NewRequest(http.MethodGet, "/api/tests/execution/"+rec.ID+"/stream", nil)
		srv.Handler().ServeHTTP(w, req)
	}()

	select {
	case <-w.stalled:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never flushed its replay")
	}
	require.NoError(t, os.WriteFile(gate, nil, 0o600))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = svc.Wait(ctx, rec.ID)
	require.NoError(t, err)
	close(w.release)

	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after the subscriber was dropped")
	}
	body := w.Body.String()
	assert.Contains(t, body, truncatedMessage)
	assert.NotContains(t, body, `"type":"complete"`)
}

func TestStream_Returns404_When_ExecutionUnknown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 0")
	var errBody errorBody
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/tests/execution/exec_404/stream", &errBody))
}

func TestHistory_MergesLiveAndArchived(t *testing.T) {
	t.Parallel()

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	code := 0
	archive := staticArchive{{ID: "exec_old", Modules: []string{"cart"}, Status: execution.StatusPassed, StartTime: old, ExitCode: &code}}
	f := newFixture(t, "exit 0", func(_ *Config, d *Deps) { d.Archive = archive })

	var started runResponse
	require.Equal(t, http.StatusOK, f.post(t, "/api/tests/run", `{"modules":["login"]}`, &started))
	f.wait(t, started.ExecutionID)

	var body struct {
		Executions []historyEntry `json:"executions"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/tests/history", &body))
	require.Len(t, body.Executions, 2)
	assert.Equal(t, started.ExecutionID, body.Executions[0].ExecutionID)
	assert.False(t, body.Executions[0].Archived)
	assert.Equal(t, "exec_old", body.Executions[1].ExecutionID)
	assert.True(t, body.Executions[1].Archived)
}

func TestResults_Returns404_Until_FileExists(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 0")
	var errBody errorBody
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/tests/results", &errBody))

	report := `[{"uri":"features/login.feature","name":"Login","elements":[
		{"type":"scenario","keyword":"Scenario","name":"Valid login","line":5,"tags":[{"name":"@P1"}],
		 "steps":[{"keyword":"Given ","name":"x","result":{"status":"passed","duration":1000000}}]}]}]`
	require.NoError(t, os.WriteFile(f.cfg.ResultsFile, []byte(report), 0o600))

	var body struct {
		Stats struct {
			TotalScenarios int `json:"totalScenarios"`
			Passed         int `json:"passed"`
		} `json:"stats"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/tests/results", &body))
	assert.Equal(t, 1, body.Stats.TotalScenarios)
	assert.Equal(t, 1, body.Stats.Passed)
}

func TestStatus_And_CORS(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "exit 0")
	var body map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/status", &body))
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "dev", body["version"])

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/tests/run", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServerStartStop(t *testing.T) {
	reg := registry.NewFS(features())
	svc := execution.NewService(reg, execution.WithLogger(discard()))
	srv, err := NewServer(DefaultConfig(), Deps{Modules: reg, Service: svc, Logger: discard()})
	require.NoError(t, err)

	addr, err := srv.Start()
	require.NoError(t, err)
	assert.NotEqual(t, ":0", addr)
	assert.Equal(t, addr, srv.Addr())

	resp, err := http.Get("http://" + addr + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get("http://" + addr + "/api/status")
	assert.Error(t, err)
}

func TestAddr_DoesNotBlock_While_ShutdownDrains(t *testing.T) {
	reg := registry.NewFS(features())
	svc := execution.NewService(reg, execution.WithLogger(discard()))
	srv, err := NewServer(DefaultConfig(), Deps{Modules: reg, Service: svc, Logger: discard()})
	require.NoError(t, err)

	addr, err := srv.Start()
	require.NoError(t, err)

	// a half-sent request keeps its connection active until the read timeout
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "GET /api/status HTTP/1.1\r\nHost: localhost\r\n")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- srv.Shutdown(ctx) }()
	time.Sleep(50 * time.Millisecond)

	got := make(chan string, 1)
	go func() { got <- srv.Addr() }()
	select {
	case a := <-got:
		assert.Equal(t, addr, a)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Addr blocked while Shutdown was draining")
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown never returned")
	}
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewServer(DefaultConfig(), Deps{})
	assert.Error(t, err)
}
