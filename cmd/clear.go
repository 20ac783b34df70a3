package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var clearForce bool

// clearCmd wipes the match history and achievement progress of the signed-in user.
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all matches and reset achievement progress",
	Long:  "Delete every stored match, locally and from your account, and reset achievement progress to zero. Unlocks are credited again as new matches are added.",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().BoolVarP(&clearForce, "force", "f", false, "skip confirmation prompt")
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n := a.svc.Snapshot().Len()
	if !clearForce {
		fmt.Fprintf(os.Stderr, "This will permanently delete %d match(es) and reset all achievement progress.\n", n)
		fmt.Fprintf(os.Stderr, "Re-run with --force to confirm.\n")
		return nil
	}
	if err := a.svc.ClearAllHistory(ctx, ""); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if err := a.settle(ctx); err != nil {
		return fmt.Errorf("wait for sync: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Cleared %d match(es) and reset achievement progress.\n", n)
	return nil
}
