package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/report"
	"github.com/pable/racquet-metrics/internal/storage"
)

// summaryCmd is the cobra command for displaying a high-level database overview.
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show a high-level overview of the database",
	Long: `Display totals from the match index: match count, date range, sports played
and the per-sport win/loss breakdown, plus the stored collection snapshots.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func runSummary(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := storage.Open(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	ov, err := db.GetOverview(ctx)
	if err != nil {
		return fmt.Errorf("get overview: %w", err)
	}
	sports, err := db.GetSportStats(ctx)
	if err != nil {
		return fmt.Errorf("get sport stats: %w", err)
	}
	fmt.Fprintf(os.Stdout, "\n=== Database Summary ===\n\n")
	report.PrintOverview(os.Stdout, ov, sports)

	blobs, err := db.Blobs(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	if len(blobs) > 0 {
		fmt.Fprintf(os.Stdout, "\n--- Stored collections ---\n\n")
		for _, b := range blobs {
			fmt.Fprintf(os.Stdout, "  %-24s  v%-6d  %8d B raw  %8d B packed  saved %s\n",
				b.Key, b.Version, b.RawSize, b.PackedSize, b.SavedAt)
		}
	}
	if v, dirty, err := db.SchemaVersion(); err == nil {
		fmt.Fprintf(os.Stdout, "\nSchema version: %d", v)
		if dirty {
			fmt.Fprint(os.Stdout, " (dirty)")
		}
		fmt.Fprintln(os.Stdout)
	}
	return nil
}
