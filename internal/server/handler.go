package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkoosis/cukedash/internal/execution"
	"github.com/dkoosis/cukedash/internal/registry"
	"github.com/dkoosis/cukedash/internal/tagexpr"
	"github.com/dkoosis/cukedash/pkg/cucumberjson"
	"github.com/dkoosis/cukedash/pkg/gherkin"
)

type handlers struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	quit     chan struct{}
	quitOnce sync.Once
}

func (h *handlers) closeStreams() {
	h.quitOnce.Do(func() { close(h.quit) })
}

func (h *handlers) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/modules", h.listModules)
	mux.HandleFunc("GET /api/modules/stats", h.moduleStats)
	mux.HandleFunc("GET /api/modules/{id}/scenarios", h.moduleScenarios)
	mux.HandleFunc("GET /api/audit/untagged", h.untagged)
	mux.HandleFunc("POST /api/tests/run", h.runTests)
	mux.HandleFunc("GET /api/tests/execution/{id}/stream", h.stream)
	mux.HandleFunc("GET /api/tests/execution/{id}", h.executionStatus)
	mux.HandleFunc("POST /api/tests/execution/{id}/stop", h.stopExecution)
	mux.HandleFunc("GET /api/tests/history", h.history)
	mux.HandleFunc("GET /api/tests/results", h.results)
	mux.HandleFunc("GET /api/status", h.status)
	return cors(mux)
}

// cors allows any origin, like the dashboard front end expects.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors to status codes.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, registry.ErrModuleNotFound):
		code, msg = http.StatusNotFound, "Module not found"
	case errors.Is(err, execution.ErrNotFound):
		code, msg = http.StatusNotFound, "Execution not found"
	case errors.Is(err, tagexpr.ErrNoModules):
		code, msg = http.StatusBadRequest, "No modules specified"
	case errors.Is(err, execution.ErrPartialSelection):
		code = http.StatusBadRequest
	case errors.Is(err, execution.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, fs.ErrNotExist):
		code, msg = http.StatusNotFound, "No test results available"
	case errors.Is(err, execution.ErrSpawn):
		code = http.StatusInternalServerError
	}
	if code >= 500 {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func (h *handlers) modules(r *http.Request) ([]registry.Module, error) {
	mods, err := h.deps.Modules.Discover(r.Context())
	if err != nil {
		return nil, err
	}
	if h.deps.Tracker != nil {
		mods = h.deps.Tracker.Enrich(r.Context(), mods)
	}
	return mods, nil
}

func (h *handlers) listModules(w http.ResponseWriter, r *http.Request) {
	mods, err := h.modules(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": mods})
}

func (h *handlers) moduleStats(w http.ResponseWriter, r *http.Request) {
	mods, err := h.modules(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registry.ComputeStats(mods))
}

func (h *handlers) moduleScenarios(w http.ResponseWriter, r *http.Request) {
	mod, err := h.deps.Modules.Find(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": mod.Scenarios})
}

func (h *handlers) untagged(w http.ResponseWriter, r *http.Request) {
	features, err := h.deps.Modules.Features(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	found := gherkin.Audit(features)
	if found == nil {
		found = []gherkin.Untagged{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": found, "count": len(found)})
}

type runRequest struct {
	Modules           []string            `json:"modules"`
	Headless          *bool               `json:"headless"`
	SelectedScenarios map[string][]string `json:"selectedScenarios"`
	Tags              string              `json:"tags"`
}

type runResponse struct {
	ExecutionID   string `json:"executionId"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	TagExpression string `json:"tagExpression"`
}

func (h *handlers) runTests(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}
	if len(req.Modules) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "No modules specified"})
		return
	}
	headless := h.cfg.Headless
	if req.Headless != nil {
		headless = *req.Headless
	}

	rec, err := h.deps.Service.Start(r.Context(), execution.Request{
		Modules:  req.Modules,
		Headless: headless,
		Selected: req.SelectedScenarios,
		Tags:     req.Tags,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		ExecutionID:   rec.ID,
		Status:        "started",
		Message:       "Test execution started for modules: " + strings.Join(req.Modules, ", "),
		TagExpression: rec.TagExpression,
	})
}

type statusResponse struct {
	ExecutionID   string              `json:"executionId"`
	Status        execution.Status    `json:"status"`
	StartTime     time.Time           `json:"startTime"`
	EndTime       *time.Time          `json:"endTime"`
	Modules       []string            `json:"modules"`
	TagExpression string              `json:"tagExpression"`
	ExitCode      *int                `json:"exitCode"`
	StopPhase     execution.StopPhase `json:"stopPhase,omitempty"`
	LogsCount     int                 `json:"logsCount"`
	LogTail       []string            `json:"logTail"`
}

func (h *handlers) executionStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Service.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tail := rec.LogTail
	if tail == nil {
		tail = []string{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ExecutionID:   rec.ID,
		Status:        rec.Status,
		StartTime:     rec.StartTime,
		EndTime:       rec.EndTime,
		Modules:       rec.Modules,
		TagExpression: rec.TagExpression,
		ExitCode:      rec.ExitCode,
		StopPhase:     rec.StopPhase,
		LogsCount:     len(rec.Logs),
		LogTail:       tail,
	})
}

func (h *handlers) stopExecution(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Service.Stop(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msg := "Execution stopped successfully"
	if res == execution.AlreadyCompleted {
		msg = "Execution already completed"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

type historyEntry struct {
	ExecutionID   string           `json:"executionId"`
	Status        execution.Status `json:"status"`
	StartTime     time.Time        `json:"startTime"`
	EndTime       *time.Time       `json:"endTime"`
	Modules       []string         `json:"modules"`
	TagExpression string           `json:"tagExpression"`
	ExitCode      *int             `json:"exitCode"`
	Archived      bool             `json:"archived,omitempty"`
}

func toHistory(rec execution.Record, archived bool) historyEntry {
	return historyEntry{
		ExecutionID:   rec.ID,
		Status:        rec.Status,
		StartTime:     rec.StartTime,
		EndTime:       rec.EndTime,
		Modules:       rec.Modules,
		TagExpression: rec.TagExpression,
		ExitCode:      rec.ExitCode,
		Archived:      archived,
	}
}

// history merges live executions with archived ones, newest first. Live
// records win over their archived copies.
func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	live := h.deps.Service.List()
	seen := make(map[string]bool, len(live))
	out := make([]historyEntry, 0, len(live))
	for _, rec := range live {
		seen[rec.ID] = true
		out = append(out, toHistory(rec, false))
	}

	if h.deps.Archive != nil {
		archived, err := h.deps.Archive.List(r.Context(), h.cfg.HistoryLimit)
		if err != nil {
			h.logger.Warn("reading execution archive failed", "error", err)
		}
		for _, rec := range archived {
			if !seen[rec.ID] {
				out = append(out, toHistory(rec, true))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

func (h *handlers) results(w http.ResponseWriter, r *http.Request) {
	features, err := cucumberjson.ParseFile(h.cfg.ResultsFile)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cucumberjson.Summary(features))
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "running",
		"timestamp": time.Now().UTC(),
		"version":   h.cfg.Version,
	})
}
