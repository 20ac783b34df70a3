package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <match-id> [match-id...]",
	Short: "Delete matches locally and from your account",
	Long: `Delete matches by ID or unique ID prefix. They disappear locally at once; the
remote delete is queued and retried on the next sync if the account is unreachable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ids := make([]string, 0, len(args))
	for _, arg := range args {
		m, err := a.svc.Match(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", arg, err)
			continue
		}
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no matching matches to delete")
	}
	removed := a.svc.DeleteMatches(ctx, ids)
	if err := a.settle(ctx); err != nil {
		return fmt.Errorf("wait for sync: %w", err)
	}
	for _, id := range removed {
		fmt.Fprintf(os.Stdout, "Deleted: %s\n", id)
	}
	if pending := a.svc.Snapshot().PendingDeletes(); len(pending) > 0 {
		fmt.Fprintf(os.Stdout, "%d remote delete(s) pending; they will be retried on the next sync.\n", len(pending))
	}
	return nil
}
