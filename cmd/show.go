package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/report"
)

var showCmd = &cobra.Command{
	Use:   "show <match-id>",
	Short: "Show the insight report of one match",
	Long:  "Show the narrative, momentum, serve and key-moment analysis of a match. A unique ID prefix is enough.",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.svc.Match(args[0])
	if err != nil {
		return err
	}
	rep, err := a.svc.InsightsFor(m.ID)
	if err != nil {
		return fmt.Errorf("analyze match: %w", err)
	}
	report.PrintMatchSummary(os.Stdout, m)
	report.PrintInsight(os.Stdout, rep)
	return nil
}
