package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sana-health/procsync/internal/procedure"
	"github.com/sana-health/procsync/internal/store"
	"github.com/sana-health/procsync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "store",
	Short:   "List stored procedures, most recently modified first",
	Example: `  procsync list
  procsync list --since yesterday
  procsync list --since 72h --limit 20 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceStr, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		since, err := parseSince(sinceStr, time.Now())
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		docs, err := st.List(cmd.Context(), store.ListFilter{ModifiedSince: since, Limit: limit, Offset: offset})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			type entry struct {
				Ref        int64     `json:"ref"`
				GUID       string    `json:"guid"`
				Title      string    `json:"title"`
				Author     string    `json:"author"`
				ModifiedAt time.Time `json:"modified_at"`
			}
			entries := make([]entry, len(docs))
			for i, d := range docs {
				entries[i] = entry{Ref: d.ID, GUID: d.GUID, Title: d.Title, Author: d.Author, ModifiedAt: d.ModifiedAt}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		if len(docs) == 0 {
			fmt.Fprintln(out, ui.RenderMuted("No procedures stored."))
			return nil
		}

		rows := make([][]string, len(docs))
		for i, d := range docs {
			rows[i] = []string{
				strconv.FormatInt(d.ID, 10),
				d.Title,
				d.Author,
				d.GUID,
				d.ModifiedAt.Local().Format("2006-01-02 15:04"),
			}
		}
		fmt.Fprintln(out, ui.Table([]string{"REF", "TITLE", "AUTHOR", "GUID", "MODIFIED"}, rows))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <ref|guid>",
	GroupID: "store",
	Short:   "Print a stored procedure's XML",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, _ := cmd.Flags().GetBool("meta")

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		doc, err := lookup(cmd, st, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if meta {
			fmt.Fprintf(out, "Ref: %d\n", doc.ID)
			fmt.Fprintf(out, "GUID: %s\n", doc.GUID)
			fmt.Fprintf(out, "Title: %s\n", doc.Title)
			fmt.Fprintf(out, "Author: %s\n", doc.Author)
			fmt.Fprintf(out, "Created: %s\n", doc.CreatedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "Modified: %s\n", doc.ModifiedAt.Local().Format(time.RFC3339))
			if p, err := procedure.Parse(doc.Body); err == nil {
				fmt.Fprintf(out, "Pages: %d\n", len(p.Pages))
				fmt.Fprintf(out, "Elements: %d\n", p.ElementCount())
			}
			return nil
		}
		fmt.Fprintln(out, doc.Body)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <ref|guid>",
	GroupID: "store",
	Short:   "Delete one stored procedure",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		doc, err := lookup(cmd, st, args[0])
		if err != nil {
			return err
		}
		if err := st.Delete(cmd.Context(), doc.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %d (%s)\n", ui.RenderPass("✓"), doc.ID, doc.Title)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "store",
	Short:   "Delete every stored procedure",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if !yes {
			n, err := st.Count(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := ui.Confirm(
				fmt.Sprintf("Delete all %d stored procedures?", n),
				"This cannot be undone. Export first with 'procsync export'.",
			)
			if errors.Is(err, ui.ErrNotInteractive) {
				return fmt.Errorf("refusing to clear without confirmation; pass --yes")
			}
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		n, err := st.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %d procedures\n", ui.RenderPass("✓"), n)
		return nil
	},
}

// lookup resolves a numeric store reference or a GUID.
func lookup(cmd *cobra.Command, st *store.Store, arg string) (*procedure.Document, error) {
	var (
		doc *procedure.Document
		err error
	)
	if ref, perr := strconv.ParseInt(arg, 10, 64); perr == nil {
		doc, err = st.Get(cmd.Context(), ref)
	} else {
		doc, err = st.GetByGUID(cmd.Context(), arg)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no procedure %q", arg)
	}
	return doc, err
}

func init() {
	listCmd.Flags().String("since", "", "Only procedures modified since (date, duration like 72h, or e.g. \"last monday\")")
	listCmd.Flags().Int("limit", 0, "Maximum procedures to list (0 = all)")
	listCmd.Flags().Int("offset", 0, "Skip this many procedures")
	listCmd.Flags().Bool("json", false, "Output JSON")

	showCmd.Flags().Bool("meta", false, "Show metadata instead of the XML body")

	clearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(clearCmd)
}
