package cli

import (
	"github.com/spf13/cobra"
	"github.com/tolkaudit/tolkaudit/internal/audit"
	"github.com/tolkaudit/tolkaudit/internal/events"
	"github.com/tolkaudit/tolkaudit/internal/verify"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show an audit run with its folded pipeline and verify state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		run, err := a.orch.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		// Authoritative state comes from the run record; the stage and
		// verify views are folds over the persisted event log.
		history, err := a.store.ListByJob(cmd.Context(), run.ID)
		if err != nil {
			return err
		}
		pipeline := audit.NewPipelineState()
		progress := verify.NewProgress(verify.Plan{})
		for _, e := range history {
			switch e.Queue {
			case events.QueueAudit:
				pipeline.Apply(e)
			case events.QueueVerify:
				progress.Apply(e)
			}
		}

		return printJSON(cmd, map[string]interface{}{
			"run":      run,
			"pipeline": pipeline,
			"verify":   progress,
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a queued or running audit run",
	Long: `Mark a run cancelled. No further stages are enqueued; stages already in
flight are abandoned and their late results discarded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.orch.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("run %s cancelled\n", args[0])
		return nil
	},
}
