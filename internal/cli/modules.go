package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkoosis/cukedash/internal/registry"
	"github.com/dkoosis/cukedash/internal/tracker"
	"github.com/dkoosis/cukedash/pkg/gherkin"
)

// NewModulesCommand creates the modules command.
func NewModulesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List feature modules with scenario counts and estimates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := opts.resolve(cmd, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			modules, err := registry.New(rc.FeaturesPath()).Discover(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "discover modules", err)
			}
			if rc.TrackerEnabled() {
				logger := newLogger(cmd.ErrOrStderr(), rc.LogLevel, rc.LogFormat)
				modules = tracker.New(rc.Jira, tracker.WithLogger(logger)).Enrich(ctx, modules)
			}
			return opts.writePatterns(cmd.OutOrStdout(), modulePatterns(modules)...)
		},
	}
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "List scenarios without a priority or sanity tag",
		Long: `List scenarios that carry none of @P1, @P2, @P3 or @Sanity.

Exits with status 1 when any are found, so it can gate CI.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := opts.resolve(cmd, nil)
			if err != nil {
				return err
			}
			features, err := registry.New(rc.FeaturesPath()).Features(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read features", err)
			}
			untagged := gherkin.Audit(features)
			if err := opts.writePatterns(cmd.OutOrStdout(), auditPatterns(untagged)...); err != nil {
				return err
			}
			if len(untagged) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d untagged scenarios", len(untagged)))
			}
			return nil
		},
	}
}
