package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tolkaudit/tolkaudit/internal/compare"
)

var compareCmd = &cobra.Command{
	Use:   "compare <from-run-id> <to-run-id>",
	Short: "Diff two completed audit runs' findings and file sets",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		fromRun, err := compareInput(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		toRun, err := compareInput(cmd.Context(), a, args[1])
		if err != nil {
			return err
		}

		report, err := compare.Compare(*fromRun, *toRun)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

func compareInput(ctx context.Context, a *app, runID string) (*compare.Run, error) {
	run, err := a.orch.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	rev, err := a.revisions.GetRevision(run.RevisionID)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(rev.Files))
	for p := range rev.Files {
		files = append(files, p)
	}
	return &compare.Run{
		ID:       run.ID,
		Status:   run.Status,
		Findings: run.Findings,
		Files:    files,
	}, nil
}
