package cli

import (
	"github.com/spf13/cobra"

	"github.com/dkoosis/cukedash/internal/history"
)

type historyOptions struct {
	*RootOptions
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(root *RootOptions) *cobra.Command {
	opts := &historyOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived executions",
		Long: `List executions archived in the history database, newest first, with a
duration trend. Requires history_db (or --history-db).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := opts.resolve(cmd, nil)
			if err != nil {
				return err
			}
			if rc.HistoryDB == "" {
				return NewExitError(ExitCommandError, "no history database configured (set history_db or --history-db)")
			}
			store, err := history.Open(rc.HistoryDB)
			if err != nil {
				return WrapExitError(ExitCommandError, "open history", err)
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), opts.Limit)
			if err != nil {
				return err
			}
			return opts.writePatterns(cmd.OutOrStdout(), historyPatterns(records)...)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of executions")

	return cmd
}
