package cli

import (
	"github.com/spf13/cobra"
	"github.com/tolkaudit/tolkaudit/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only observation API",
	Long: `Start a local HTTP server exposing run status, folded pipeline and verify
state, comparison reports, and a Server-Sent-Events stream of job events.
It never renders anything and never blocks on pipeline completion.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return web.NewServer(a.orch, a.revisions, a.bus, a.store, port).Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
}
