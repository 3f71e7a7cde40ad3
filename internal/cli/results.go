package cli

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/dkoosis/cukedash/pkg/cucumberjson"
)

// NewResultsCommand creates the results command.
func NewResultsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "Summarize the last cucumber JSON report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := opts.resolve(cmd, nil)
			if err != nil {
				return err
			}
			features, err := cucumberjson.ParseFile(rc.ResultsPath())
			if errors.Is(err, fs.ErrNotExist) {
				return NewExitError(ExitCommandError, "no test results available at "+rc.ResultsPath())
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "read results", err)
			}
			report := cucumberjson.Summary(features)
			if err := opts.writePatterns(cmd.OutOrStdout(), resultPatterns(report)...); err != nil {
				return err
			}
			if report.Stats.Failed > 0 {
				return NewExitError(ExitFailure, "")
			}
			return nil
		},
	}
}
