package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tolkaudit/tolkaudit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate the audit configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDefault()
		if err != nil {
			return err
		}
		return printJSON(cmd, cfg)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and report all problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadDefault()
		if err != nil {
			return err
		}
		errs := config.Validate(cfg)
		if len(errs) == 0 {
			cmd.Println("config is valid")
			return nil
		}
		for _, e := range errs {
			cmd.Printf("  %s\n", e.Error())
		}
		return fmt.Errorf("%d validation errors", len(errs))
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}
