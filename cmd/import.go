package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/capture"
	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/report"
)

var importWatch bool

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import every wearable export in a directory",
	Long: `Import all .json exports found in a directory. With --watch, keep running and
import new exports as the device sync tool writes them, until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVarP(&importWatch, "watch", "w", false, "keep watching the directory for new exports")
}

func runImport(cmd *cobra.Command, args []string) error {
	dir := args[0]
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	add := func(path string, m model.MatchRecord) {
		stored := a.svc.AddMatch(ctx, m)
		fmt.Fprintf(os.Stdout, "Imported %s  %s  %s  (%s)\n",
			report.ShortID(stored.ID), stored.Sport, stored.FinalScore, filepath.Base(path))
	}

	if !importWatch {
		var unlocks unlockCollector
		defer a.svc.SubscribeUnlocks(unlocks.add)()

		paths, err := capture.ListExports(dir)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Fprintf(os.Stdout, "No exports found in %s\n", dir)
			return nil
		}
		for _, p := range paths {
			m, err := capture.DecodeFile(p)
			if err != nil {
				fmt.Fprintf(os.Stderr, "skip %s: %v\n", p, err)
				continue
			}
			add(p, m)
		}
		if err := a.settle(ctx); err != nil {
			return fmt.Errorf("wait for sync: %w", err)
		}
		unlocks.print()
		return nil
	}

	// Print unlocks as they happen while watching.
	defer a.svc.SubscribeUnlocks(func(u model.Unlock) {
		fmt.Fprintf(os.Stdout, "Unlocked: %s %s (+%d)\n", u.Name, u.Tier.Name, u.Tier.Points)
	})()
	fmt.Fprintf(os.Stdout, "Watching %s for exports (Ctrl-C to stop)\n", dir)
	err = capture.Watch(ctx, capture.WatchOptions{Dir: dir, Existing: true}, add)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
