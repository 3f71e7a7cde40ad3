//go:build !unix

package execution

import (
	"errors"
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on non-Unix platforms.
func setProcessGroup(cmd *exec.Cmd) {}

// signalGroup interrupts or kills the process itself; there are no process
// groups to target. Platforms that cannot deliver os.Interrupt get a kill.
func signalGroup(p *os.Process, graceful bool) error {
	if p == nil {
		return nil
	}
	var err error
	if graceful {
		if err = p.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			err = p.Kill()
		}
	} else {
		err = p.Kill()
	}
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func exitCodeFromState(ps *os.ProcessState) int {
	return ps.ExitCode()
}

// InterruptSignals returns the signals that should shut the server down.
func InterruptSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
