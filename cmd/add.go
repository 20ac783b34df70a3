package cmd

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/capture"
	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/report"
)

var addCmd = &cobra.Command{
	Use:   "add <export.json> [export.json...]",
	Short: "Add matches from wearable export files",
	Long: `Decode one or more wearable match exports and add them to the collection.
Re-adding the same export merges into the stored match instead of duplicating it.
Newly unlocked achievement tiers are printed once the collection settles.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

// unlockCollector gathers unlock notifications for printing after a command.
type unlockCollector struct {
	mu      sync.Mutex
	unlocks []model.Unlock
}

func (c *unlockCollector) add(u model.Unlock) {
	c.mu.Lock()
	c.unlocks = append(c.unlocks, u)
	c.mu.Unlock()
}

func (c *unlockCollector) print() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.unlocks) == 0 {
		return
	}
	fmt.Fprintln(os.Stdout)
	report.PrintUnlocks(os.Stdout, c.unlocks)
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var unlocks unlockCollector
	defer a.svc.SubscribeUnlocks(unlocks.add)()

	var failed int
	for _, path := range args {
		m, err := capture.DecodeFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", path, err)
			failed++
			continue
		}
		stored := a.svc.AddMatch(ctx, m)
		fmt.Fprintf(os.Stdout, "Added %s  %s  %s  %s\n",
			report.ShortID(stored.ID), stored.Sport, stored.StartedAt.Local().Format("2006-01-02 15:04"), stored.FinalScore)
	}
	if err := a.settle(ctx); err != nil {
		return fmt.Errorf("wait for sync: %w", err)
	}
	unlocks.print()
	if failed > 0 {
		return fmt.Errorf("%d of %d export(s) could not be added", failed, len(args))
	}
	return nil
}
