package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultKillGrace is the delay between SIGTERM and SIGKILL on Stop.
const DefaultKillGrace = 5 * time.Second

// Option configures a Service.
type Option func(*config)

// CompleteFunc runs after an execution reaches a terminal state.
type CompleteFunc func(ctx context.Context, rec Record) error

// Archiver persists finished executions.
type Archiver interface {
	Save(ctx context.Context, rec Record) error
}

type config struct {
	logger        *slog.Logger
	launcher      Launcher
	runner        RunnerConfig
	newID         func() string
	killGrace     time.Duration
	onComplete    []CompleteFunc
	archiver      Archiver
	maxConcurrent int
	retain        int
	maxTail       int
	subBuffer     int
	hookTimeout   time.Duration
}

func defaultConfig() config {
	return config{
		logger:      slog.Default(),
		launcher:    ExecLauncher{},
		runner:      DefaultRunner(),
		newID:       newExecutionID,
		killGrace:   DefaultKillGrace,
		maxTail:     defaultTailLines,
		subBuffer:   DefaultSubscriberBuffer,
		hookTimeout: 2 * time.Minute,
	}
}

func newExecutionID() string {
	return "exec_" + uuid.Must(uuid.NewV7()).String()
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(c *config) {
		if l != nil {
			c.launcher = l
		}
	}
}

// WithRunner sets the runner command line.
func WithRunner(r RunnerConfig) Option {
	return func(c *config) {
		c.runner = r
	}
}

// WithIDGenerator overrides execution id allocation.
func WithIDGenerator(fn func() string) Option {
	return func(c *config) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithKillGrace sets how long Stop waits after SIGTERM before SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.killGrace = d
		}
	}
}

// WithOnComplete adds a hook run after each execution ends. Hook errors are
// logged and never change the execution's status.
func WithOnComplete(fn CompleteFunc) Option {
	return func(c *config) {
		if fn != nil {
			c.onComplete = append(c.onComplete, fn)
		}
	}
}

// WithArchiver persists every finished execution.
func WithArchiver(a Archiver) Option {
	return func(c *config) {
		c.archiver = a
	}
}

// WithMaxConcurrent limits the number of simultaneous executions; Start
// returns ErrBusy beyond it. Zero means unlimited.
func WithMaxConcurrent(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxConcurrent = n
		}
	}
}

// WithRetention keeps at most n finished executions in memory, evicting the
// oldest first. Zero keeps everything.
func WithRetention(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.retain = n
		}
	}
}

// WithMaxTailLines sets how many output lines status snapshots carry.
func WithMaxTailLines(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxTail = n
		}
	}
}

// WithSubscriberBuffer sets how far a stream subscriber may fall behind.
func WithSubscriberBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.subBuffer = n
		}
	}
}
