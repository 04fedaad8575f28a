package cli

import (
	"github.com/spf13/cobra"
	"github.com/tolkaudit/tolkaudit/internal/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats <project-id>",
	Short: "Summarize a project's audit run history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		runs, err := a.orch.ListByProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, analytics.Summarize(runs))
	},
}
