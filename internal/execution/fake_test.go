package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
)

// fakeProcess is a scriptable ProcessHandle. Tests write output with
// stdout/stderr and end the process with exit.
type fakeProcess struct {
	pid        int
	outR, errR *io.PipeReader
	outW, errW *io.PipeWriter
	exitCh     chan int
	// exitOnTerm makes Terminate end the process with the given code; nil
	// means the process ignores signals.
	exitOnTerm func(graceful bool) (int, bool)

	mu    sync.Mutex
	terms []bool
	once  sync.Once
}

func newFakeProcess(pid int) *fakeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &fakeProcess{pid: pid, outR: outR, outW: outW, errR: errR, errW: errW, exitCh: make(chan int, 1)}
}

func (p *fakeProcess) Pid() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return p.outR }
func (p *fakeProcess) Stderr() io.Reader { return p.errR }

func (p *fakeProcess) Wait() (int, error) {
	code := <-p.exitCh
	_ = p.outW.Close()
	_ = p.errW.Close()
	return code, nil
}

func (p *fakeProcess) Terminate(graceful bool) error {
	p.mu.Lock()
	p.terms = append(p.terms, graceful)
	p.mu.Unlock()
	if p.exitOnTerm != nil {
		if code, ok := p.exitOnTerm(graceful); ok {
			p.exit(code)
		}
	}
	return nil
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() { p.exitCh <- code })
}

func (p *fakeProcess) stdout(line string) {
	_, _ = io.WriteString(p.outW, line+"\n")
}

func (p *fakeProcess) stderr(line string) {
	_, _ = io.WriteString(p.errW, line+"\n")
}

func (p *fakeProcess) terminations() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.terms...)
}

// fakeLauncher hands out prepared processes and records launch specs.
type fakeLauncher struct {
	mu    sync.Mutex
	procs []*fakeProcess
	specs []LaunchSpec
	err   error
}

func (l *fakeLauncher) Launch(spec LaunchSpec) (ProcessHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	if l.err != nil {
		return nil, l.err
	}
	if len(l.procs) == 0 {
		return nil, errors.New("no fake process prepared")
	}
	p := l.procs[0]
	l.procs = l.procs[1:]
	return p, nil
}

func (l *fakeLauncher) lastSpec() LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.specs[len(l.specs)-1]
}

type staticResolver map[string]string

func (r staticResolver) Lookup(context.Context) (func(string) (string, bool), error) {
	return func(id string) (string, bool) {
		t, ok := r[id]
		return t, ok
	}, nil
}

// catalogResolver also lists the scenario names of each module.
type catalogResolver struct {
	staticResolver
	names map[string][]string
}

func (r catalogResolver) ScenarioNames(context.Context) (func(string) ([]string, bool), error) {
	return func(id string) ([]string, bool) {
		n, ok := r.names[id]
		return n, ok
	}, nil
}

type recordingArchiver struct {
	mu   sync.Mutex
	recs []Record
}

func (a *recordingArchiver) Save(_ context.Context, rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *recordingArchiver) ids() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for _, r := range a.recs {
		ids = append(ids, r.ID)
	}
	return ids
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "exec_" + strconv.Itoa(n)
	}
}
