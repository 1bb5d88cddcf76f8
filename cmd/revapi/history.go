package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/revapi/internal/defaults"
	"github.com/neboloop/revapi/internal/runs"
)

// HistoryCmd creates the history command
func HistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent capture runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := defaults.CatalogPath()
			if err != nil {
				return err
			}
			store, err := runs.Open(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			if len(list) == 0 {
				fmt.Println("No runs yet. Start one with: revapi capture \"<goal>\"")
				return nil
			}
			printHistory(list)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", runs.DefaultListLimit, "number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print runs as JSON")

	return cmd
}

func printHistory(list []runs.RunRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSTATUS\tREQUESTS\tANALYSIS\tPROMPT")
	for _, r := range list {
		duration := "-"
		if r.EndedAt != nil {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		analysis := r.AnalysisStatus
		if analysis == "" {
			analysis = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			duration,
			r.Status,
			r.Entries,
			analysis,
			truncate(r.Prompt, 50))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
