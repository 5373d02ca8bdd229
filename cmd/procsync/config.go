package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sana-health/procsync/internal/config"
	"github.com/sana-health/procsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()
		if cfg.File != "" {
			fmt.Fprintln(out, ui.RenderMuted("# from "+cfg.File))
		}
		return config.Write(out, cfg.Redacted(), format)
	},
}

func init() {
	configShowCmd.Flags().String("format", "yaml", "Output format: yaml or toml")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
