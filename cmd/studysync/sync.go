package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push unsynced records, then pull and merge from the cloud",
	Long: `Run one reconciliation pass:
  1. Push every local record not yet acknowledged by the cloud
  2. Fetch the user's records from the cloud for each kind
  3. Merge by last-writer-wins: insert missing records, overwrite older ones,
     keep local copies that are as new or newer

Pull failures for one kind do not stop the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := a.userID()
		if err != nil {
			return err
		}

		kindFlag, _ := cmd.Flags().GetString("kind")
		if kindFlag != "" {
			kind, err := schema.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			return syncKind(cmd, a, kind, userID)
		}

		fmt.Fprintf(out, "%s Syncing %s...\n", ui.RenderAccent("🔄"), userID)
		report, err := a.engine.Sync(ctx, userID)
		if errors.Is(err, reconcile.ErrOffline) {
			fmt.Fprintf(out, "%s %s: local changes stay queued\n", ui.RenderWarn("⚠"), a.unreachableReason())
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s Sync complete in %v\n", ui.RenderPass("✓"), report.Duration.Round(time.Millisecond))
		for _, p := range report.Pushes {
			fmt.Fprintf(out, "   Pushed %s: %d/%d\n", kindLabel(p.Kind), p.Pushed, p.Pending)
		}
		for _, m := range report.Merges {
			fmt.Fprintf(out, "   Pulled %s: %d fetched, %d inserted, %d overwritten, %d kept\n",
				kindLabel(m.Kind), m.Fetched, m.Inserted, m.Overwritten, m.Kept)
		}
		for kind, perr := range report.PullErrors {
			fmt.Fprintf(out, "   %s pull %s: %v\n", ui.RenderFail("✗"), kindLabel(kind), perr)
		}
		return nil
	},
}

func syncKind(cmd *cobra.Command, a *app, kind schema.Kind, userID string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	batch, err := a.engine.PushUnsynced(ctx, kind)
	if errors.Is(err, reconcile.ErrOffline) {
		fmt.Fprintf(out, "%s %s: local changes stay queued\n", ui.RenderWarn("⚠"), a.unreachableReason())
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Pushed %s: %d/%d\n", ui.RenderPass("✓"), kindLabel(kind), batch.Pushed, batch.Pending)

	merge, err := a.engine.Pull(ctx, kind, userID)
	if err != nil {
		fmt.Fprintf(out, "%s Pull %s failed: %v\n", ui.RenderFail("✗"), kindLabel(kind), err)
		return nil
	}
	fmt.Fprintf(out, "%s Pulled %s: %d fetched, %d inserted, %d overwritten, %d kept\n", ui.RenderPass("✓"),
		kindLabel(kind), merge.Fetched, merge.Inserted, merge.Overwritten, merge.Kept)
	return nil
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local database and replica status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.db.GetStats(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\n%s StudySync Status\n\n", ui.RenderAccent("📊"))
		fmt.Fprintf(out, "Database: %s", a.db.Path())
		if info, err := os.Stat(a.db.Path()); err == nil {
			fmt.Fprintf(out, " (%s)", ui.FormatSize(info.Size()))
		}
		fmt.Fprintln(out)
		if a.cfg.File != "" {
			fmt.Fprintf(out, "Config: %s\n", a.cfg.File)
		}
		user := a.cfg.User.ID
		if user == "" {
			user = ui.RenderWarn("not set")
		}
		fmt.Fprintf(out, "User: %s\n", user)

		network := ui.RenderPass("online")
		if !a.gate.Online() {
			network = ui.RenderWarn("offline")
		}
		fmt.Fprintf(out, "Network: %s\n", network)
		cloudState := a.cfg.Cloud.Backend
		if !a.cloudConfigured() {
			cloudState = ui.RenderWarn("not configured") + " (set cloud.backend to redis to sync)"
		}
		fmt.Fprintf(out, "Cloud: %s\n", cloudState)
		secondary := ui.RenderMuted("disabled")
		if a.secondary != nil {
			secondary = a.cfg.Secondary.URL
		}
		fmt.Fprintf(out, "Secondary: %s\n\n", secondary)

		kinds := make([]schema.Kind, 0, len(stats.Kinds))
		for k := range stats.Kinds {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		rows := make([][]string, 0, len(kinds))
		for _, k := range kinds {
			ks := stats.Kinds[k]
			rows = append(rows, []string{kindLabel(k), strconv.Itoa(ks.Total), strconv.Itoa(ks.Unsynced)})
		}
		fmt.Fprintln(out, ui.RenderTable([]string{"Kind", "Total", "Unsynced"}, rows))

		if pending := stats.PendingTotal(); pending > 0 {
			fmt.Fprintf(out, "%s %d records waiting to be pushed (run 'studysync sync')\n", ui.RenderWarn("⚠"), pending)
		} else {
			fmt.Fprintf(out, "%s Everything pushed\n", ui.RenderPass("✓"))
		}

		if a.cfg.User.ID != "" {
			if n, err := a.db.CountUpcomingTasks(ctx, a.cfg.User.ID, schema.Now()); err == nil {
				fmt.Fprintf(out, "Upcoming tasks: %d\n", n)
			}
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	syncCmd.Flags().StringP("kind", "k", "", "only this kind: task, course or resource")
	rootCmd.AddCommand(syncCmd, statusCmd)
}
