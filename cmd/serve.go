package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/api"
	"github.com/pable/racquet-metrics/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API and live unlock feed",
	Long: `Start an HTTP server exposing matches, insights, performance and achievements
under /api, and a websocket at /ws that pushes achievement unlocks and collection
changes. When a remote store is configured it is refreshed every sync.auto_interval.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, 127.0.0.1:8787)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	if a.cfg.Sync.Remote != config.RemoteNone && a.cfg.Sync.Remote != "" {
		interval, _ := a.cfg.GetAutoInterval()
		if interval > 0 {
			stopAuto, err := a.svc.AutoRefresh(ctx, interval)
			if err != nil {
				return err
			}
			defer func() {
				if err := stopAuto(); err != nil {
					slog.Warn("stop auto refresh", "error", err)
				}
			}()
		}
	}

	srv := api.New(a.svc, api.Options{AllowedOrigins: a.cfg.Server.AllowedOrigins, Logger: slog.Default()})
	fmt.Fprintf(os.Stdout, "Serving on http://%s (Ctrl-C to stop)\n", addr)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
