package execution

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"
)

// ProcessHandle is the supervisor's exclusive reference to a running child.
type ProcessHandle interface {
	Pid() int
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits and both output streams are
	// closed. It returns the exit code; err is set only when no exit status
	// could be collected.
	Wait() (int, error)
	// Terminate signals the process group: SIGTERM when graceful, SIGKILL
	// otherwise. Signalling a process that already exited is not an error.
	Terminate(graceful bool) error
}

// LaunchSpec describes one child process.
type LaunchSpec struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
}

// Launcher starts child processes.
type Launcher interface {
	Launch(spec LaunchSpec) (ProcessHandle, error)
}

// ExecLauncher starts real OS processes in their own process group.
type ExecLauncher struct {
	// WaitDelay bounds how long Wait keeps reading output after the child
	// exits, in case a grandchild still holds the pipes open.
	WaitDelay time.Duration
}

// Launch starts spec and returns once the process is running.
func (l ExecLauncher) Launch(spec LaunchSpec) (ProcessHandle, error) {
	if spec.Command == "" {
		return nil, errors.New("no runner command configured")
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}
	setProcessGroup(cmd)

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = outW.Close()
		_ = errW.Close()
		return nil, err
	}
	return &execHandle{cmd: cmd, outR: outR, outW: outW, errR: errR, errW: errW}, nil
}

type execHandle struct {
	cmd        *exec.Cmd
	outR, errR *io.PipeReader
	outW, errW *io.PipeWriter
}

func (h *execHandle) Pid() int          { return h.cmd.Process.Pid }
func (h *execHandle) Stdout() io.Reader { return h.outR }
func (h *execHandle) Stderr() io.Reader { return h.errR }

func (h *execHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	_ = h.outW.Close()
	_ = h.errW.Close()
	if h.cmd.ProcessState != nil {
		return exitCodeFromState(h.cmd.ProcessState), nil
	}
	return -1, err
}

func (h *execHandle) Terminate(graceful bool) error {
	return signalGroup(h.cmd.Process, graceful)
}

// mergeEnv appends extra to base in key order so the child environment is
// deterministic. Later entries win for duplicate keys in os/exec.
func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, len(base), len(base)+len(extra))
	copy(env, base)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return env
}

// processEnv is the parent environment, replaceable in tests.
var processEnv = os.Environ
