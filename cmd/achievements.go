package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/report"
)

var achievementsCmd = &cobra.Command{
	Use:     "achievements",
	Aliases: []string{"ach"},
	Short:   "Show achievement tiers and progress",
	Args:    cobra.NoArgs,
	RunE:    runAchievements,
}

func runAchievements(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Bring the ledger up to date with the stored collection before reporting.
	unlocks, err := a.svc.Evaluate(ctx, "")
	if err != nil {
		return fmt.Errorf("evaluate achievements: %w", err)
	}
	progress, err := a.svc.AchievementProgress(ctx, "")
	if err != nil {
		return err
	}
	points, err := a.svc.TotalPoints(ctx, "")
	if err != nil {
		return err
	}
	cat, err := a.svc.Catalog()
	if err != nil {
		return err
	}
	report.PrintAchievements(os.Stdout, cat, progress, points)
	if len(unlocks) > 0 {
		fmt.Fprintln(os.Stdout)
		report.PrintUnlocks(os.Stdout, unlocks)
	}
	return nil
}
