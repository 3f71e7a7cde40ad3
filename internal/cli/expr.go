package cli

import (
	"github.com/spf13/cobra"

	"github.com/dkoosis/cukedash/internal/registry"
	"github.com/dkoosis/cukedash/internal/tagexpr"
)

type exprOptions struct {
	*RootOptions
	Modules []string
	Tags    string
}

type exprOutput struct {
	Modules       []string `json:"modules"`
	TagExpression string   `json:"tagExpression"`
}

// NewExprCommand creates the expr command.
func NewExprCommand(root *RootOptions) *cobra.Command {
	opts := &exprOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "expr",
		Short: "Print the cucumber tag expression for modules and tags",
		Example: `  cukedash expr -m login -m cart
  cukedash expr -m login --tags "@P1 or @P2"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := opts.resolve(cmd, nil)
			if err != nil {
				return err
			}
			lookup, err := registry.New(rc.FeaturesPath()).Lookup(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "discover modules", err)
			}
			expr, err := tagexpr.Build(opts.Modules, opts.Tags, lookup)
			if err != nil {
				return WrapExitError(ExitCommandError, "build expression", err)
			}
			return opts.writeValue(cmd.OutOrStdout(), exprOutput{Modules: opts.Modules, TagExpression: expr}, expr)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Modules, "module", "m", nil, "module id (repeatable)")
	cmd.Flags().StringVarP(&opts.Tags, "tags", "t", "", "extra tag expression, e.g. @P1 or @Regression")

	return cmd
}
