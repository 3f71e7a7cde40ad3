package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dkoosis/cukedash/internal/config"
	"github.com/dkoosis/cukedash/internal/execution"
	"github.com/dkoosis/cukedash/internal/tagexpr"
	"github.com/dkoosis/cukedash/pkg/render"
)

type runOptions struct {
	*RootOptions
	Modules   []string
	Tags      string
	Headless  bool
	Scenarios []string
}

// NewRunCommand creates the run command.
func NewRunCommand(root *RootOptions) *cobra.Command {
	opts := &runOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run modules through cucumber-js and stream the output",
		Long: `Run the given modules with the same supervisor the server uses and stream
the runner's output. Ctrl-C stops the run (SIGTERM, then SIGKILL).

Exits 0 only when the run passed.`,
		Example: `  cukedash run -m login --tags @P1
  cukedash run -m login --scenario "login=Valid login"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Modules, "module", "m", nil, "module id (repeatable)")
	cmd.Flags().StringVarP(&opts.Tags, "tags", "t", "", "extra tag expression")
	cmd.Flags().BoolVar(&opts.Headless, "headless", true, "run the browser headless")
	cmd.Flags().StringArrayVar(&opts.Scenarios, "scenario", nil, "module=scenario name to run only that scenario (repeatable)")

	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions) error {
	rc, err := opts.resolve(cmd, func(c *config.CliFlags) {
		c.Headless, c.HeadlessSet = opts.Headless, cmd.Flags().Changed("headless")
	})
	if err != nil {
		return err
	}
	selected, err := parseSelections(opts.Scenarios)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --scenario", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), rc.LogLevel, rc.LogFormat)
	a, err := newApp(rc, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "startup", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.shutdown(sctx)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), execution.InterruptSignals()...)
	defer stop()

	rec, err := a.service.Start(ctx, execution.Request{
		Modules:  opts.Modules,
		Headless: rc.Headless,
		Selected: selected,
		Tags:     opts.Tags,
	})
	switch {
	case errors.Is(err, tagexpr.ErrNoModules):
		return NewExitError(ExitCommandError, "no modules specified (use --module)")
	case errors.Is(err, execution.ErrPartialSelection):
		return WrapExitError(ExitCommandError, "scenario selection", err)
	case errors.Is(err, execution.ErrSpawn):
		return WrapExitError(ExitCommandError, "runner", err)
	case err != nil:
		return err
	}

	final, err := opts.follow(ctx, a.service, rec.ID, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if opts.Format == render.FormatJSON {
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(final); err != nil {
			return err
		}
	} else if err := opts.writePatterns(cmd.OutOrStdout(), executionPatterns(final)); err != nil {
		return err
	}

	if final.Status != execution.StatusPassed {
		return NewExitError(ExitFailure, "execution "+string(final.Status))
	}
	return nil
}

// follow prints the execution's events until it completes. Cancelling ctx
// stops the run; following continues until the process is reaped. When
// the live feed falls behind, the rest is printed from the finished
// record so the transcript stays whole.
func (o *runOptions) follow(ctx context.Context, svc *execution.Service, id string, stdout, stderr io.Writer) (execution.Record, error) {
	history, sub, err := svc.Subscribe(id)
	if err != nil {
		return execution.Record{}, err
	}
	defer svc.Unsubscribe(sub)

	seen := 0
	show := func(e execution.Event) {
		if e.Type != execution.EventComplete {
			seen++
		}
		o.printEvent(e, stdout, stderr)
	}
	for _, e := range history {
		show(e)
	}
	done := ctx.Done()
loop:
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				break loop
			}
			show(e)
		case <-done:
			done = nil
			fmt.Fprintln(stderr, "interrupt: stopping execution")
			if _, err := svc.Stop(id); err != nil {
				return execution.Record{}, err
			}
		}
	}

	rec, err := svc.Wait(context.Background(), id)
	if err != nil || !sub.Dropped() {
		return rec, err
	}
	if o.Format != render.FormatJSON {
		fmt.Fprintln(stderr, "» live output fell behind, printing the rest from the execution log")
	}
	for _, e := range rec.Logs[min(seen, len(rec.Logs)):] {
		o.printEvent(e.Event(id), stdout, stderr)
	}
	o.printEvent(rec.CompleteEvent(), stdout, stderr)
	return rec, nil
}

func (o *runOptions) printEvent(e execution.Event, stdout, stderr io.Writer) {
	if o.Format == render.FormatJSON {
		_ = json.NewEncoder(stdout).Encode(e)
		return
	}
	switch e.Type {
	case execution.EventStdout:
		fmt.Fprintln(stdout, e.Message)
	case execution.EventStderr:
		fmt.Fprintln(stderr, e.Message)
	case execution.EventSystem:
		fmt.Fprintln(stderr, "» "+e.Message)
	}
}

// parseSelections turns module=name pairs into the per-module scenario map.
func parseSelections(pairs []string) (map[string][]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string][]string)
	for _, p := range pairs {
		module, name, ok := strings.Cut(p, "=")
		module, name = strings.TrimSpace(module), strings.TrimSpace(name)
		if !ok || module == "" || name == "" {
			return nil, fmt.Errorf("%q is not module=scenario", p)
		}
		out[module] = append(out[module], name)
	}
	return out, nil
}
