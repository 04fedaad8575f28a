package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "tolkaudit",
	Short: "tolkaudit — smart-contract audit pipeline",
	Long: `tolkaudit runs the audit execution pipeline against snapshots of
smart-contract source trees: static verification, sandboxed checks, and the
agent discovery/validation/synthesis/quality-gate sequence.

Runs and job events are stored in Postgres; revision snapshots live in the
data directory as content-addressed blobs. Progress is observed through the
job event stream, never by blocking on the pipeline.`,
}

func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tolkaudit version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(configCmd)
}
