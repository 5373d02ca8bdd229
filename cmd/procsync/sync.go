package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sana-health/procsync/internal/catalog"
	"github.com/sana-health/procsync/internal/ingest"
	"github.com/sana-health/procsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync pass against the procedure catalog",
	Long: `Fetch the catalog listing and import every procedure in it.

Each procedure is fetched, given the patient-identification preamble,
parsed, and then inserted or, when a procedure with the same title and
author is already stored, updated in place. A procedure that fails is
reported and the pass continues; a catalog that cannot be listed aborts
the pass before anything is written.

The catalog is remote.base_url, or a local directory with --dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")

		var (
			cat catalog.Catalog
			err error
		)
		if dir != "" {
			cat = catalog.NewDir(dir)
		} else if cat, err = remoteCatalog(); err != nil {
			return err
		}
		if cat == nil {
			return fmt.Errorf("no catalog: set remote.base_url or pass --dir")
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		syncer, err := newSyncer(cat, st)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Syncing procedures...\n", ui.RenderAccent("→"))
		res, err := syncer.Run(cmd.Context())
		if err != nil {
			if res != nil {
				printResult(out, res)
			}
			return err
		}
		printResult(out, res)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>...",
	GroupID: "sync",
	Short:   "Import procedure files from disk",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		syncer, err := newSyncer(nil, st)
		if err != nil {
			return err
		}

		res, err := syncer.ImportFiles(cmd.Context(), args)
		if res != nil {
			printResult(cmd.OutOrStdout(), res)
		}
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d files failed to import", res.Failed, res.Total)
		}
		return nil
	},
}

var loadDefaultsCmd = &cobra.Command{
	Use:     "load-defaults",
	GroupID: "sync",
	Short:   "Import the bundled default procedures",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		syncer, err := newSyncer(nil, st)
		if err != nil {
			return err
		}

		res, err := syncer.LoadDefaults(cmd.Context())
		if res != nil {
			printResult(cmd.OutOrStdout(), res)
		}
		return err
	},
}

// printResult writes a human summary of a pass.
func printResult(out io.Writer, res *ingest.Result) {
	mark := ui.RenderPass("✓")
	switch {
	case res.State == ingest.StateAborted:
		mark = ui.RenderFail("✗")
	case res.Partial():
		mark = ui.RenderWarn("⚠")
	}

	fmt.Fprintf(out, "%s %s in %v\n", mark, res.State, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "   Total: %d\n", res.Total)
	fmt.Fprintf(out, "   Inserted: %d\n", res.Inserted)
	fmt.Fprintf(out, "   Updated: %d\n", res.Updated)
	if res.Failed > 0 {
		fmt.Fprintf(out, "   Failed: %d\n", res.Failed)
	}
	if res.Skipped > 0 {
		fmt.Fprintf(out, "   Skipped: %d\n", res.Skipped)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(out, "   %s %s (%s, %s): %v\n", ui.RenderFail("-"), f.ID, f.Stage, f.Kind(), f.Err)
	}
	fmt.Fprintf(out, "   %s\n", ui.RenderMuted("run "+res.RunID))
}

func init() {
	syncCmd.Flags().String("dir", "", "Sync from a local directory of procedure files instead of the remote catalog")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(loadDefaultsCmd)
}
