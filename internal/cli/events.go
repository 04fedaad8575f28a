package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/tolkaudit/tolkaudit/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events <job-id>",
	Short: "Print a job's event log",
	Long: `Print the persisted event log for one job id. With --follow, keep polling
the store for new events until interrupted. The --project flag is the
claimed project id; a mismatch is rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]
		projectID, _ := cmd.Flags().GetString("project")
		follow, _ := cmd.Flags().GetBool("follow")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		var lastID int64
		print := func(list []events.Event) error {
			for _, e := range list {
				if e.ID <= lastID {
					continue
				}
				if e.ProjectID != "" && e.ProjectID != projectID {
					return events.ErrForbidden
				}
				lastID = e.ID
				if err := printJSON(cmd, e); err != nil {
					return err
				}
			}
			return nil
		}

		history, err := a.store.ListByJob(cmd.Context(), jobID)
		if err != nil {
			return err
		}
		if err := print(history); err != nil {
			return err
		}
		if !follow {
			return nil
		}

		// Poll the durable store rather than the in-process bus so events
		// published by other processes show up too.
		tick := time.NewTicker(2 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case <-tick.C:
			}
			history, err := a.store.ListByJob(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			if err := print(history); err != nil {
				return err
			}
		}
	},
}

func init() {
	eventsCmd.Flags().String("project", "default", "Claimed project ID")
	eventsCmd.Flags().Bool("follow", false, "Keep polling for new events")
}
