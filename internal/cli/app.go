package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dkoosis/cukedash/internal/config"
	"github.com/dkoosis/cukedash/internal/execution"
	"github.com/dkoosis/cukedash/internal/history"
	"github.com/dkoosis/cukedash/internal/registry"
	"github.com/dkoosis/cukedash/internal/tracker"
)

// app holds the collaborators shared by serve and run. tracker and
// archive are nil when not configured.
type app struct {
	cfg      *config.ResolvedConfig
	logger   *slog.Logger
	registry *registry.Registry
	tracker  *tracker.Client
	archive  *history.Store
	service  *execution.Service
}

func newApp(cfg *config.ResolvedConfig, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry.New(cfg.FeaturesPath()),
	}

	opts := []execution.Option{
		execution.WithLogger(logger),
		execution.WithRunner(execution.RunnerConfig{
			Command:     cfg.RunnerCommand,
			Args:        cfg.RunnerArgs,
			Dir:         cfg.WorkDir,
			ResultsFile: cfg.ResultsFile,
		}),
		execution.WithKillGrace(cfg.KillGrace),
		execution.WithMaxConcurrent(cfg.MaxConcurrent),
		execution.WithRetention(cfg.RetainExecutions),
	}

	if cfg.TrackerEnabled() {
		a.tracker = tracker.New(cfg.Jira, tracker.WithLogger(logger))
		opts = append(opts, execution.WithOnComplete(a.tracker.OnComplete(cfg.ResultsPath())))
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.archive = store
		opts = append(opts, execution.WithArchiver(store))
	}

	a.service = execution.NewService(a.registry, opts...)
	return a, nil
}

// modules discovers modules and adds tracker counts when configured.
func (a *app) modules(ctx context.Context) ([]registry.Module, error) {
	modules, err := a.registry.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if a.tracker != nil {
		modules = a.tracker.Enrich(ctx, modules)
	}
	return modules, nil
}

// shutdown stops running executions, then closes the archive.
func (a *app) shutdown(ctx context.Context) error {
	err := a.service.Shutdown(ctx)
	if a.archive != nil {
		if cerr := a.archive.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
