package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/revapi/internal/capture"
	"github.com/neboloop/revapi/internal/session"
)

// InspectCmd creates the inspect command
func InspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <run-id|path>",
		Short: "Summarize a captured HAR archive",
		Long: `Check that a capture archive is a valid HAR file and summarize it by
host, method and status. The argument is a run id, a run directory, a
metadata.json or a .har file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := AppConfig.OutputRoot()
			if err != nil {
				return err
			}
			harPath, err := session.Locate(root, args[0])
			if err != nil {
				return err
			}
			har, err := capture.Load(harPath)
			if err != nil {
				return err
			}
			summary := har.Summary()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}

			fmt.Printf("Archive: %s\n", harPath)
			if m, err := session.ReadMetadata(filepath.Join(filepath.Dir(harPath), session.MetadataName)); err == nil {
				fmt.Printf("Run:     %s (%s)\n", m.RunID, m.EndTime.Sub(m.StartTime).Round(time.Second))
				if m.Prompt != "" {
					fmt.Printf("Goal:    %s\n", m.Prompt)
				}
				if m.Strategy != "" {
					fmt.Printf("Browser: %s via %s\n", m.Strategy, m.Driver)
				}
			}
			fmt.Printf("Creator: %s %s\n", har.Log.Creator.Name, har.Log.Creator.Version)
			fmt.Println()
			printSummary(summary)
			printCounts("Methods", summary.Methods)
			printCounts("Statuses", summary.Statuses)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")

	return cmd
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-8s %d\n", k, counts[k])
	}
}
