package execution

import (
	"time"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusStopped Status = "stopped"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusStopped
}

// StopPhase tracks a stop request through the termination steps.
type StopPhase string

const (
	PhaseNone         StopPhase = ""
	PhaseRequested    StopPhase = "requested"
	PhaseGracefulSent StopPhase = "graceful-sent"
	PhaseForceSent    StopPhase = "force-sent"
	PhaseReaped       StopPhase = "reaped"
)

// Channel names the origin of a log line.
type Channel string

const (
	ChannelStdout Channel = "stdout"
	ChannelStderr Channel = "stderr"
	ChannelSystem Channel = "system"
)

// LogEntry is one line of execution output.
type LogEntry struct {
	Channel   Channel   `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is a snapshot of one execution. Records handed out by the Service
// are copies; mutating them has no effect on the service.
type Record struct {
	ID            string              `json:"executionId"`
	Modules       []string            `json:"modules"`
	Selected      map[string][]string `json:"selectedScenarios,omitempty"`
	Tags          string              `json:"tags,omitempty"`
	TagExpression string              `json:"tagExpression"`
	Headless      bool                `json:"headless"`
	Status        Status              `json:"status"`
	StartTime     time.Time           `json:"startTime"`
	EndTime       *time.Time          `json:"endTime,omitempty"`
	ExitCode      *int                `json:"exitCode,omitempty"`
	StopPhase     StopPhase           `json:"stopPhase,omitempty"`
	Pid           int                 `json:"pid,omitempty"`
	Logs          []LogEntry          `json:"-"`
	LogTail       []string            `json:"logTail,omitempty"`
}

// Duration is the wall time of the execution, or the time elapsed so far.
func (r Record) Duration() time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return time.Since(r.StartTime)
}

// CompleteEvent returns the event that ends the stream of a finished
// record.
func (r Record) CompleteEvent() Event {
	e := Event{Type: EventComplete, ExecutionID: r.ID, Status: r.Status}
	if r.ExitCode != nil {
		code := *r.ExitCode
		e.ExitCode = &code
	}
	if r.EndTime != nil {
		e.Timestamp = *r.EndTime
	}
	return e
}

func (r Record) clone() Record {
	c := r
	c.Modules = append([]string(nil), r.Modules...)
	if r.Selected != nil {
		c.Selected = make(map[string][]string, len(r.Selected))
		for k, v := range r.Selected {
			c.Selected[k] = append([]string(nil), v...)
		}
	}
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	if r.ExitCode != nil {
		code := *r.ExitCode
		c.ExitCode = &code
	}
	c.Logs = append([]LogEntry(nil), r.Logs...)
	c.LogTail = append([]string(nil), r.LogTail...)
	return c
}
