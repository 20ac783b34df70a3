package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/report"
	"github.com/pable/racquet-metrics/internal/service"
)

var (
	listSport string
	listSince string
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored matches, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listSport, "sport", "", "only this sport (e.g. padel, tennis)")
	listCmd.Flags().StringVar(&listSince, "since", "", "only matches on or after this date (YYYY-MM-DD)")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "show at most n matches")
}

func runList(cmd *cobra.Command, args []string) error {
	f := service.Filter{Sport: model.Sport(listSport), Limit: listLimit}
	if listSince != "" {
		t, err := time.ParseInLocation(time.DateOnly, listSince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		f.Since = t
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	matches := a.svc.ListMatches(f)
	if len(matches) == 0 {
		fmt.Fprintln(os.Stdout, "No matches stored yet. Run 'racquetmetrics add <export.json>' to add one.")
		return nil
	}
	report.PrintMatchList(os.Stdout, matches)
	return nil
}
