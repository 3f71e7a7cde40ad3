// Package cli implements the cukedash command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dkoosis/cukedash/internal/config"
	"github.com/dkoosis/cukedash/pkg/render"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	Verbose     bool
	Format      string // "json" | "text"
	FeaturesDir string
	WorkDir     string
	HistoryDB   string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{render.FormatText, render.FormatJSON}

// NewRootCommand creates the root command for the cukedash CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cukedash",
		Short: "Cucumber test-run orchestrator",
		Long: "cukedash discovers feature modules, builds tag expressions, runs cucumber-js\n" +
			"and streams its output to the dashboard over Server-Sent Events.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", "", "config file (default ./.cukedash.yaml)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&opts.Format, "format", render.FormatText, "output format (json|text)")
	pf.StringVar(&opts.FeaturesDir, "features-dir", config.DefaultFeaturesDir, "directory holding *.feature files")
	pf.StringVar(&opts.WorkDir, "work-dir", ".", "runner working directory")
	pf.StringVar(&opts.HistoryDB, "history-db", "", "SQLite file archiving finished executions")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewModulesCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewExprCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewResultsCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Message != "" {
		fmt.Fprintf(stderr, "cukedash: %v\n", err)
	}
	return GetExitCode(err)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// resolve merges flags, environment and the config file. Extra flags a
// subcommand owns are folded in by the caller through fn.
func (o *RootOptions) resolve(cmd *cobra.Command, fn func(*config.CliFlags)) (*config.ResolvedConfig, error) {
	flags := cmd.Flags()
	cli := config.CliFlags{
		ConfigPath:     o.ConfigPath,
		FeaturesDir:    o.FeaturesDir,
		WorkDir:        o.WorkDir,
		HistoryDB:      o.HistoryDB,
		Verbose:        o.Verbose,
		FeaturesDirSet: flags.Changed("features-dir"),
		WorkDirSet:     flags.Changed("work-dir"),
		HistoryDBSet:   flags.Changed("history-db"),
	}
	if fn != nil {
		fn(&cli)
	}
	rc, err := config.ResolveConfig(cli)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration", err)
	}
	return rc, nil
}

// newLogger builds the process logger. Logs always go to w (stderr) so
// they never mix with rendered output.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// noColor follows https://no-color.org.
func noColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}
