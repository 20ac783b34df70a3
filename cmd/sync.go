package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/reconcile"
	"github.com/pable/racquet-metrics/internal/report"
)

var (
	syncForce bool
	syncWatch bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull new matches from your account and push pending changes",
	Long: `Refresh the local collection from the configured remote store. Queued uploads and
deletes are retried first. Without --force the pull is skipped when the last one is
within sync.freshness. With --watch, refresh every sync.auto_interval until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVarP(&syncForce, "force", "f", false, "ignore the freshness window")
	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false, "keep refreshing on an interval")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if syncWatch {
		interval, _ := a.cfg.GetAutoInterval()
		defer a.svc.SubscribeChanges(func(c reconcile.Change) {
			if c.Kind == reconcile.ChangeMerged {
				fmt.Fprintf(os.Stdout, "Merged %d match(es) from remote (version %d)\n", len(c.IDs), c.Version)
			}
		})()
		defer a.svc.SubscribeUnlocks(func(u model.Unlock) {
			fmt.Fprintf(os.Stdout, "Unlocked: %s %s (+%d)\n", u.Name, u.Tier.Name, u.Tier.Points)
		})()
		stopAuto, err := a.svc.AutoRefresh(ctx, interval)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Refreshing every %s (Ctrl-C to stop)\n", interval)
		<-ctx.Done()
		return stopAuto()
	}

	res, err := a.svc.Refresh(ctx, syncForce)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := a.settle(ctx); err != nil {
		return fmt.Errorf("wait for sync: %w", err)
	}
	report.PrintRefresh(os.Stdout, res)
	return nil
}
