package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/report"
)

var perfDays int

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Show rolling performance over the last days",
	Long: `Aggregate win rate, serve efficiency, side-out rate, time played and streaks
over a trailing window of calendar days, today included. --days 0 covers all matches.`,
	Args: cobra.NoArgs,
	RunE: runPerf,
}

func init() {
	perfCmd.Flags().IntVarP(&perfDays, "days", "d", 7, "window length in days (0 for all time)")
}

func runPerf(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	report.PrintPerformance(os.Stdout, a.svc.AggregatePerformance(perfDays), perfDays)
	return nil
}
