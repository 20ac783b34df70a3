package cmd

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/report"
	"github.com/pable/racquet-metrics/internal/service"
)

var (
	trendSport string
	trendLast  int
)

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Chronological per-match performance trend",
	Args:  cobra.NoArgs,
	RunE:  runTrend,
}

func init() {
	trendCmd.Flags().StringVar(&trendSport, "sport", "", "only this sport")
	trendCmd.Flags().IntVar(&trendLast, "last", 20, "only the N most recent matches (0 for all)")
	rootCmd.AddCommand(trendCmd)
}

func runTrend(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	matches := a.svc.ListMatches(service.Filter{Sport: model.Sport(trendSport), Limit: trendLast})
	if len(matches) == 0 {
		fmt.Println("no matches found")
		return nil
	}
	slices.Reverse(matches)

	reports := make([]model.InsightReport, len(matches))
	for i, m := range matches {
		if reports[i], err = a.svc.InsightsFor(m.ID); err != nil {
			return err
		}
	}
	report.PrintTrendTable(os.Stdout, matches, reports)
	return nil
}
