// Command procsync keeps a device's procedure store in step with a remote
// catalog and local procedure files.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sana-health/procsync/internal/config"
	"github.com/sana-health/procsync/internal/logging"
	"github.com/sana-health/procsync/internal/ui"
)

var (
	configPath string
	noColor    bool
	logLevel   string

	cfg       *config.Config
	logger    = zerolog.Nop()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "procsync",
	Short: "Sync and import clinical procedure definitions",
	Long: `procsync fetches procedure definitions from a remote catalog or local
files, prepends the standard patient-identification pages, and stores them
in a local procedure store, updating procedures it already has.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(cmd.OutOrStdout(), noColor)

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded

		l, closer, err := logging.New(cfg.Log, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		logger, logCloser = l, closer
		if cfg.File != "" {
			logger.Debug().Str("file", cfg.File).Msg("config loaded")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./procsync.yaml or ~/.procsync/procsync.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync and import:"},
		&cobra.Group{ID: "store", Title: "Procedure store:"},
		&cobra.Group{ID: "advanced", Title: "Services and tools:"},
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		stop()
		os.Exit(1)
	}
}
