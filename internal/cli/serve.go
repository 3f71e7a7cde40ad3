package cli

import (
	"context"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkoosis/cukedash/internal/config"
	"github.com/dkoosis/cukedash/internal/execution"
	"github.com/dkoosis/cukedash/internal/server"
	"github.com/dkoosis/cukedash/internal/version"
)

// shutdownTimeout bounds the wait for runs and connections on exit.
const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	*RootOptions
	Port      int
	Headless  bool
	LogLevel  string
	LogFormat string
}

// NewServeCommand creates the serve command.
func NewServeCommand(root *RootOptions) *cobra.Command {
	opts := &serveOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API server",
		Long: `Start the HTTP API: module discovery, test runs, SSE log streams and results.

Runs are stopped and the server drains on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", config.DefaultPort, "listen port")
	cmd.Flags().BoolVar(&opts.Headless, "headless", true, "default browser mode for runs")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", config.DefaultLogLevel, "debug, info, warn or error")
	cmd.Flags().StringVar(&opts.LogFormat, "log-format", config.DefaultLogFormat, "text or json")

	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	flags := cmd.Flags()
	rc, err := opts.resolve(cmd, func(c *config.CliFlags) {
		c.Port, c.PortSet = opts.Port, flags.Changed("port")
		c.Headless, c.HeadlessSet = opts.Headless, flags.Changed("headless")
		c.LogLevel, c.LogLevelSet = opts.LogLevel, flags.Changed("log-level")
		c.LogFormat, c.LogFormatSet = opts.LogFormat, flags.Changed("log-format")
	})
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), rc.LogLevel, rc.LogFormat)
	a, err := newApp(rc, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "startup", err)
	}

	deps := server.Deps{Modules: a.registry, Service: a.service, Logger: logger}
	if a.tracker != nil {
		deps.Tracker = a.tracker
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	scfg := server.DefaultConfig()
	scfg.Addr = rc.Addr()
	scfg.ResultsFile = rc.ResultsPath()
	scfg.Headless = rc.Headless
	scfg.Version = version.Version
	scfg.HistoryLimit = rc.RetainExecutions

	srv, err := server.NewServer(scfg, deps)
	if err != nil {
		return err
	}
	addr, err := srv.Start()
	if err != nil {
		_ = a.shutdown(context.Background())
		return WrapExitError(ExitCommandError, "listen", err)
	}
	logger.Info("cukedash listening",
		"addr", addr,
		"features", rc.FeaturesPath(),
		"config", rc.ConfigFile,
		"tracker", a.tracker != nil,
		"history", rc.HistoryDB,
	)
	for key, src := range rc.Sources {
		logger.Debug("config source", "key", key, "source", src)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), execution.InterruptSignals()...)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.shutdown(sctx); err != nil {
		logger.Warn("executions did not finish", "error", err)
	}
	return srv.Shutdown(sctx)
}
