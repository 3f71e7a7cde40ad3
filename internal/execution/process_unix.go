//go:build unix

package execution

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup configures the command to run in its own process group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends SIGTERM or SIGKILL to the process group of p, falling
// back to the process itself when the group cannot be resolved.
func signalGroup(p *os.Process, graceful bool) error {
	if p == nil {
		return nil
	}
	sig := syscall.SIGKILL
	if graceful {
		sig = syscall.SIGTERM
	}
	var err error
	if pgid, gerr := syscall.Getpgid(p.Pid); gerr == nil {
		err = syscall.Kill(-pgid, sig)
	} else {
		err = p.Signal(sig)
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// exitCodeFromState maps a death by signal to the shell's 128+n convention.
func exitCodeFromState(ps *os.ProcessState) int {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ws.ExitStatus()
	}
	return ps.ExitCode()
}

// InterruptSignals returns the signals that should shut the server down.
func InterruptSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}
