package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkoosis/cukedash/internal/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cukedash %s (commit %s, built %s)\n",
				version.Version, version.CommitHash, version.BuildDate)
			return err
		},
	}
}
