package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/capture"
	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/report"
	"github.com/pable/racquet-metrics/internal/service"
)

var (
	cPrompt   = color.New(color.FgCyan, color.Bold)
	cMuted    = color.New(color.Faint)
	cError    = color.New(color.FgRed, color.Bold)
	cWarn     = color.New(color.FgYellow)
	cUnlock   = color.New(color.FgGreen, color.Bold)
	cCmd      = color.New(color.FgYellow, color.Bold)
	cGreeting = color.New(color.Bold)
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive REPL session",
	Long: `Open a persistent session against the collection. Achievement unlocks are
printed as soon as they happen. Type 'help' for available commands.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	defer a.svc.SubscribeUnlocks(func(u model.Unlock) {
		cUnlock.Printf("\n★ %s: %s unlocked (+%d points)\n", u.Name, u.Tier.Name, u.Tier.Points)
	})()

	cGreeting.Println("racquetmetrics shell")
	cMuted.Printf("%d match(es) loaded; type 'help' or 'exit'\n\n", a.svc.Snapshot().Len())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		cPrompt.Print("racquet")
		cMuted.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		tokens := strings.Fields(line)
		name, args := tokens[0], tokens[1:]

		switch name {
		case "exit", "quit":
			return nil
		case "help":
			shellHelp()
		case "list":
			shellList(a.svc, args)
		case "show":
			if len(args) != 1 {
				cError.Fprintln(os.Stderr, "usage: show <match-id>")
				continue
			}
			shellShow(a.svc, args[0])
		case "perf":
			days := 7
			if len(args) > 0 {
				if days, err = strconv.Atoi(args[0]); err != nil {
					cError.Fprintln(os.Stderr, "usage: perf [days]")
					continue
				}
			}
			report.PrintPerformance(os.Stdout, a.svc.AggregatePerformance(days), days)
		case "ach", "achievements":
			shellAchievements(ctx, a.svc)
		case "add":
			for _, path := range args {
				shellAdd(ctx, a.svc, path)
			}
		case "delete":
			shellDelete(ctx, a.svc, args)
		case "sync":
			force := len(args) > 0 && args[0] == "--force"
			res, err := a.svc.Refresh(ctx, force)
			if err != nil {
				cError.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			report.PrintRefresh(os.Stdout, res)
		default:
			cWarn.Fprintf(os.Stderr, "unknown command %q, type 'help'\n", name)
		}
	}
	return nil
}

func shellHelp() {
	fmt.Println()
	type entry struct{ cmd, desc string }
	rows := []entry{
		{"list [sport] [n]", "list stored matches, newest first"},
		{"show <match-id>", "insight report of one match"},
		{"perf [days]", "rolling performance (default 7 days, 0 = all)"},
		{"ach", "achievement tiers and progress"},
		{"add <export.json> [...]", "add wearable exports"},
		{"delete <match-id> [...]", "delete matches"},
		{"sync [--force]", "refresh from the remote store"},
		{"help", "show this message"},
		{"exit / quit", "close the session"},
	}
	for _, r := range rows {
		fmt.Print("  ")
		cCmd.Printf("%-28s", r.cmd)
		fmt.Println(r.desc)
	}
	fmt.Println()
}

func shellList(svc *service.Service, args []string) {
	var f service.Filter
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			f.Limit = n
		} else {
			f.Sport = model.Sport(arg)
		}
	}
	matches := svc.ListMatches(f)
	if len(matches) == 0 {
		cMuted.Println("No matches stored yet.")
		return
	}
	report.PrintMatchList(os.Stdout, matches)
}

func shellShow(svc *service.Service, id string) {
	m, err := svc.Match(id)
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	rep, err := svc.InsightsFor(m.ID)
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	report.PrintMatchSummary(os.Stdout, m)
	report.PrintInsight(os.Stdout, rep)
}

func shellAchievements(ctx context.Context, svc *service.Service) {
	progress, err := svc.AchievementProgress(ctx, "")
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	points, err := svc.TotalPoints(ctx, "")
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	cat, err := svc.Catalog()
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	report.PrintAchievements(os.Stdout, cat, progress, points)
}

func shellAdd(ctx context.Context, svc *service.Service, path string) {
	m, err := capture.DecodeFile(path)
	if err != nil {
		cError.Fprintf(os.Stderr, "skip %s: %v\n", path, err)
		return
	}
	stored := svc.AddMatch(ctx, m)
	fmt.Printf("Added %s  %s  %s\n", report.ShortID(stored.ID), stored.Sport, stored.FinalScore)
}

func shellDelete(ctx context.Context, svc *service.Service, args []string) {
	if len(args) == 0 {
		cError.Fprintln(os.Stderr, "usage: delete <match-id> [...]")
		return
	}
	var ids []string
	for _, arg := range args {
		m, err := svc.Match(arg)
		if err != nil {
			cWarn.Fprintf(os.Stderr, "skip %s: %v\n", arg, err)
			continue
		}
		ids = append(ids, m.ID)
	}
	for _, id := range svc.DeleteMatches(ctx, ids) {
		fmt.Printf("Deleted: %s\n", id)
	}
}
