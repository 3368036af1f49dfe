package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studysync/studysync/internal/daemon"
	"github.com/studysync/studysync/internal/dashboard"
	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:         "daemon",
	GroupID:     "sync",
	Short:       "Run background sync in the foreground",
	Annotations: map[string]string{longRunning: "true"},
	Long: `Run the sync daemon until interrupted.

The daemon will:
  1. Sync once at startup, then every sync.interval
  2. Retry failed pushes with backoff every sync.retry_interval
  3. Push queued changes as soon as connectivity returns
  4. Push changes other processes write to the local database

With --dashboard-port set (or dashboard.port in config), a WebSocket dashboard
streams record updates, push results, merges and stats:
  ws://localhost:8081/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cfg.User.ID == "" {
			return fmt.Errorf("no user configured: pass --user or set user.id")
		}

		noDashboard, _ := cmd.Flags().GetBool("no-dashboard")
		if cmd.Flags().Changed("dashboard-port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("dashboard-port")
		}

		var server *dashboard.Server
		var handler *dashboard.Handler
		var observer reconcile.Observer
		if !noDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Host:   cfg.Dashboard.Host,
				Port:   cfg.Dashboard.Port,
				Logger: logger,
			})
			// Stats are attached once the store is open.
			handler = dashboard.NewHandler(server, nil, logger)
			observer = handler
		}

		a, err := openApp(ctx, observer)
		if err != nil {
			return err
		}
		defer a.Close()

		if handler != nil {
			handler.SetStatsSource(a.db)
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()
			go handler.Run(ctx)
			fmt.Fprintf(out, "%s Dashboard on http://%s\n", ui.RenderAccent("📡"), server.GetAddr())
		}

		dcfg := &daemon.Config{
			UserID:           cfg.User.ID,
			SyncInterval:     cfg.Sync.Interval,
			RetryInterval:    cfg.Sync.RetryInterval,
			DebounceInterval: cfg.Sync.Debounce,
			WatchPath:        a.db.Path(),
			Logger:           logger,
		}
		if a.monitor != nil {
			dcfg.Regained = a.monitor.Regained()
			if handler != nil {
				a.monitor.OnChange(handler.OnConnectivity)
			}
			go a.monitor.Run(ctx, cfg.Sync.ProbeInterval)
		}

		d, err := daemon.New(a.engine, dcfg)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s Starting sync daemon for %s\n", ui.RenderAccent("🚀"), cfg.User.ID)
		fmt.Fprintf(out, "   Database: %s\n", a.db.Path())
		fmt.Fprintf(out, "   Sync every %v, retries every %v\n", cfg.Sync.Interval, cfg.Sync.RetryInterval)
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		// Start blocks until ctx is cancelled.
		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		stats := d.Stats()
		fmt.Fprintf(out, "\n%s Daemon stopped: %d syncs (%d failed), %d pushes, %d retries drained\n",
			ui.RenderPass("✓"), stats.Syncs, stats.SyncErrors, stats.Pushes, stats.Drained)
		return nil
	},
}

func init() {
	daemonCmd.Flags().Int("dashboard-port", 8081, "dashboard port (0 picks a free port)")
	daemonCmd.Flags().Bool("no-dashboard", false, "do not start the dashboard")
	rootCmd.AddCommand(daemonCmd)
}
