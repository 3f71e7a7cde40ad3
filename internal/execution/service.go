// Package execution supervises test-runner child processes and streams
// their output.
//
// A Service owns every execution record. Records move pending → running →
// {passed, failed, stopped} and never leave a terminal state; once Stop has
// flipped a record to stopped, the later exit code no longer changes it.
package execution

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/dkoosis/cukedash/internal/tagexpr"
)

var (
	// ErrNotFound is returned for unknown execution ids.
	ErrNotFound = errors.New("execution not found")
	// ErrSpawn wraps failures to start the runner process.
	ErrSpawn = errors.New("failed to start test runner")
	// ErrBusy is returned by Start when the concurrency limit is reached.
	ErrBusy = errors.New("too many executions running")
	// ErrPartialSelection is returned by Start when some modules narrow to
	// selected scenarios and the others cannot be listed in full.
	ErrPartialSelection = errors.New("cannot combine selected scenarios with whole modules")
)

// maxLineBytes bounds a single output line; longer lines end the scan of
// that stream and the remainder is discarded.
const maxLineBytes = 1024 * 1024

// ModuleResolver maps module ids to their tags.
type ModuleResolver interface {
	Lookup(ctx context.Context) (func(id string) (string, bool), error)
}

// ScenarioLister is implemented by resolvers that also know each module's
// scenario names.
type ScenarioLister interface {
	ScenarioNames(ctx context.Context) (func(id string) ([]string, bool), error)
}

// Request asks for one run.
type Request struct {
	Modules  []string            `json:"modules"`
	Headless bool                `json:"headless"`
	Selected map[string][]string `json:"selectedScenarios"`
	Tags     string              `json:"tags"`
}

// StopResult tells whether Stop acted.
type StopResult int

const (
	// Stopped means the execution was running and is now stopped.
	Stopped StopResult = iota
	// AlreadyCompleted means the execution had already ended; nothing was done.
	AlreadyCompleted
)

// Service starts, tracks and stops executions.
type Service struct {
	cfg       config
	resolver  ModuleResolver
	broadcast *Broadcaster
	logger    *slog.Logger
	sem       chan struct{}

	mu    sync.Mutex
	runs  map[string]*run
	order []string
	wg    sync.WaitGroup
}

type run struct {
	rec    Record
	handle ProcessHandle
	tail   *tailBuffer
	timer  *time.Timer
	done   chan struct{}
	final  *Event
}

// NewService builds a service. resolver may be nil, in which case every
// module id falls back to its capitalized form.
func NewService(resolver ModuleResolver, opts ...Option) *Service {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Service{
		cfg:       cfg,
		resolver:  resolver,
		broadcast: NewBroadcaster(cfg.subBuffer, cfg.logger),
		logger:    cfg.logger,
		runs:      make(map[string]*run),
	}
	if cfg.maxConcurrent > 0 {
		s.sem = make(chan struct{}, cfg.maxConcurrent)
	}
	return s
}

// Subscribe returns the transcript of execution id so far, ending with its
// complete event once it has finished, together with a subscription for
// everything published afterwards. Both are taken under the lock that
// guards publishing, so nothing is missed or seen twice. The record's log
// is the only copy of the output; the replay is built from it.
func (s *Service) Subscribe(id string) ([]Event, *Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sub, err := s.broadcast.Subscribe(id)
	if err != nil {
		return nil, nil, err
	}
	history := make([]Event, 0, len(r.rec.Logs)+1)
	for _, e := range r.rec.Logs {
		history = append(history, e.Event(id))
	}
	if r.final != nil {
		history = append(history, *r.final)
	}
	return history, sub, nil
}

// Unsubscribe ends a subscription obtained from Subscribe.
func (s *Service) Unsubscribe(sub *Subscription) {
	s.broadcast.Unsubscribe(sub)
}

// Runner returns the configured runner command line.
func (s *Service) Runner() RunnerConfig {
	return s.cfg.runner
}

// Start builds the tag expression, records the execution and spawns the
// runner. It returns as soon as the process is running. A spawn failure is
// returned as ErrSpawn together with the failed record.
func (s *Service) Start(ctx context.Context, req Request) (Record, error) {
	var lookup tagexpr.Lookup
	if s.resolver != nil {
		fn, err := s.resolver.Lookup(ctx)
		if err != nil {
			s.logger.Warn("module lookup failed, using capitalized ids", "error", err)
		} else {
			lookup = fn
		}
	}
	expr, err := tagexpr.Build(req.Modules, req.Tags, lookup)
	if err != nil {
		return Record{}, err
	}
	selected, err := s.expandSelection(ctx, req.Modules, req.Selected)
	if err != nil {
		return Record{}, err
	}

	if !s.acquire() {
		return Record{}, ErrBusy
	}

	r := &run{
		rec: Record{
			ID:            s.cfg.newID(),
			Modules:       append([]string(nil), req.Modules...),
			Selected:      req.Selected,
			Tags:          req.Tags,
			TagExpression: expr,
			Headless:      req.Headless,
			Status:        StatusPending,
			StartTime:     time.Now(),
		},
		tail: newTailBuffer(s.cfg.maxTail),
		done: make(chan struct{}),
	}
	// detach from caller-owned slices and maps
	r.rec = r.rec.clone()
	id := r.rec.ID

	s.mu.Lock()
	s.runs[id] = r
	s.order = append(s.order, id)
	s.broadcast.Open(id)
	s.mu.Unlock()

	spec := s.cfg.runner.Spec(expr, tagexpr.NameFilters(req.Modules, selected), req.Headless)
	log := s.logger.With("execution", id)
	log.Info("starting execution", "tags", expr, "command", spec.Command, "args", spec.Args)

	handle, err := s.cfg.launcher.Launch(spec)
	if err != nil {
		log.Error("runner failed to start", "error", err)
		s.mu.Lock()
		s.appendLocked(r, ChannelSystem, fmt.Sprintf("Failed to start test runner: %v", err))
		s.finishLocked(r, -1)
		snap := r.rec.clone()
		s.mu.Unlock()
		s.release()
		return snap, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	s.mu.Lock()
	stoppedEarly := r.rec.Status == StatusStopped
	if !stoppedEarly {
		r.rec.Status = StatusRunning
	}
	r.handle = handle
	r.rec.Pid = handle.Pid()
	s.appendLocked(r, ChannelSystem, fmt.Sprintf("Running %s %s", spec.Command, strings.Join(spec.Args, " ")))
	snap := r.rec.clone()
	s.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go s.pump(r, ChannelStdout, handle.Stdout(), &readers)
	go s.pump(r, ChannelStderr, handle.Stderr(), &readers)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		code, werr := handle.Wait()
		readers.Wait()
		s.complete(r, code, werr)
	}()

	if stoppedEarly {
		s.terminate(r, handle)
	}
	return snap, nil
}

// expandSelection fills in every scenario of the requested modules that
// have no selection when at least one other module does. --name filters
// apply to the whole run, so a bare module would otherwise match nothing.
func (s *Service) expandSelection(ctx context.Context, modules []string, selected map[string][]string) (map[string][]string, error) {
	var bare []string
	narrowed := false
	for _, id := range modules {
		if hasNames(selected[id]) {
			narrowed = true
		} else if strings.TrimSpace(id) != "" {
			bare = append(bare, id)
		}
	}
	if !narrowed || len(bare) == 0 {
		return selected, nil
	}

	lister, ok := s.resolver.(ScenarioLister)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartialSelection, strings.Join(bare, ", "))
	}
	names, err := lister.ScenarioNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPartialSelection, err)
	}
	out := make(map[string][]string, len(selected)+len(bare))
	maps.Copy(out, selected)
	for _, id := range bare {
		all, ok := names(id)
		if !ok {
			return nil, fmt.Errorf("%w: unknown module %s", ErrPartialSelection, id)
		}
		out[id] = all
	}
	return out, nil
}

func hasNames(names []string) bool {
	for _, n := range names {
		if strings.TrimSpace(n) != "" {
			return true
		}
	}
	return false
}

// pump copies one output stream into the record line by line.
func (s *Service) pump(r *run, ch Channel, rd io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		s.mu.Lock()
		s.appendLocked(r, ch, sc.Text())
		s.mu.Unlock()
	}
	if err := sc.Err(); err != nil {
		s.mu.Lock()
		s.appendLocked(r, ChannelSystem, fmt.Sprintf("%s output discarded: %v", ch, err))
		s.mu.Unlock()
	}
	// keep draining so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, rd)
}

func (s *Service) appendLocked(r *run, ch Channel, msg string) {
	e := LogEntry{Channel: ch, Message: msg, Timestamp: time.Now()}
	r.rec.Logs = append(r.rec.Logs, e)
	r.tail.add(e)
	s.broadcast.Publish(r.rec.ID, e.Event(r.rec.ID))
}

// complete handles process exit.
func (s *Service) complete(r *run, code int, waitErr error) {
	log := s.logger.With("execution", r.rec.ID)
	s.mu.Lock()
	if waitErr != nil {
		s.appendLocked(r, ChannelSystem, fmt.Sprintf("Lost track of runner process: %v", waitErr))
	}
	s.finishLocked(r, code)
	snap := r.rec.clone()
	s.mu.Unlock()
	s.release()

	log.Info("execution finished", "status", snap.Status, "exit_code", code, "duration", snap.Duration())
	s.afterFinish(snap)
}

// finishLocked moves r to its terminal state and ends its stream.
func (s *Service) finishLocked(r *run, code int) {
	now := time.Now()
	r.rec.ExitCode = &code
	switch {
	case r.rec.Status == StatusStopped:
		// stop wins over the exit code
	case code == 0:
		r.rec.Status = StatusPassed
	default:
		r.rec.Status = StatusFailed
	}
	if r.rec.EndTime == nil {
		r.rec.EndTime = &now
	}
	if r.rec.StopPhase != PhaseNone {
		r.rec.StopPhase = PhaseReaped
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.handle = nil
	r.rec.LogTail = r.tail.lines()

	final := r.rec.CompleteEvent()
	r.final = &final
	s.broadcast.Publish(r.rec.ID, final)
	s.broadcast.Close(r.rec.ID)
	close(r.done)
}

func (s *Service) afterFinish(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.hookTimeout)
	defer cancel()
	log := s.logger.With("execution", rec.ID)

	if s.cfg.archiver != nil {
		if err := s.cfg.archiver.Save(ctx, rec); err != nil {
			log.Warn("archiving execution failed", "error", err)
		}
	}
	for _, fn := range s.cfg.onComplete {
		if err := fn(ctx, rec); err != nil {
			log.Warn("post-run hook failed", "error", err)
		}
	}
	s.evict()
}

// Stop flips a running execution to stopped and starts terminating its
// process group: SIGTERM now, SIGKILL after the kill grace if the process
// is still around. Stopping a finished execution does nothing.
func (s *Service) Stop(id string) (StopResult, error) {
	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.rec.Status.Terminal() {
		s.mu.Unlock()
		return AlreadyCompleted, nil
	}
	now := time.Now()
	r.rec.Status = StatusStopped
	r.rec.EndTime = &now
	r.rec.StopPhase = PhaseRequested
	s.appendLocked(r, ChannelSystem, "Execution stopped by user")
	h := r.handle
	s.mu.Unlock()

	s.logger.Info("stopping execution", "execution", id)
	if h != nil {
		s.terminate(r, h)
	}
	return Stopped, nil
}

// terminate performs the graceful step and schedules the forced one.
func (s *Service) terminate(r *run, h ProcessHandle) {
	if err := h.Terminate(true); err != nil {
		s.logger.Warn("graceful termination failed", "execution", r.rec.ID, "error", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.rec.StopPhase != PhaseRequested {
		return
	}
	r.rec.StopPhase = PhaseGracefulSent
	r.timer = time.AfterFunc(s.cfg.killGrace, func() { s.forceKill(r) })
}

func (s *Service) forceKill(r *run) {
	s.mu.Lock()
	if r.rec.StopPhase != PhaseGracefulSent || r.handle == nil {
		s.mu.Unlock()
		return
	}
	r.rec.StopPhase = PhaseForceSent
	h := r.handle
	id := r.rec.ID
	s.mu.Unlock()

	s.logger.Warn("runner ignored SIGTERM, killing process group", "execution", id, "grace", s.cfg.killGrace)
	if err := h.Terminate(false); err != nil {
		s.logger.Warn("forced termination failed", "execution", id, "error", err)
	}
}

// Get returns a snapshot of one execution.
func (s *Service) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	snap := r.rec.clone()
	snap.LogTail = r.tail.lines()
	return snap, nil
}

// List returns snapshots of all executions in start order.
func (s *Service) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		rec := s.runs[id].rec.clone()
		rec.Logs = nil
		out = append(out, rec)
	}
	return out
}

// Wait blocks until execution id reaches a terminal state or ctx ends.
func (s *Service) Wait(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	select {
	case <-r.done:
		return s.Get(id)
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Shutdown stops every unfinished execution and waits for the processes to
// be reaped and post-run hooks to finish, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	var active []string
	for id, r := range s.runs {
		if !r.rec.Status.Terminal() {
			active = append(active, id)
		}
	}
	s.mu.Unlock()
	for _, id := range active {
		_, _ = s.Stop(id)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) acquire() bool {
	if s.sem == nil {
		return true
	}
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) release() {
	if s.sem != nil {
		<-s.sem
	}
}

// evict drops the oldest finished executions beyond the retention limit.
func (s *Service) evict() {
	if s.cfg.retain <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	finished := 0
	for _, id := range s.order {
		if s.runs[id].rec.Status.Terminal() {
			finished++
		}
	}
	excess := finished - s.cfg.retain
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		r := s.runs[id]
		if excess > 0 && r.rec.Status.Terminal() && isClosed(r.done) {
			delete(s.runs, id)
			s.broadcast.Forget(id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
