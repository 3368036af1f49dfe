// Command studysync keeps tasks, courses and resources in step across the
// local database, the cloud document store and the secondary API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/studysync/studysync/internal/config"
	"github.com/studysync/studysync/internal/logging"
	"github.com/studysync/studysync/internal/tracing"
)

var (
	cfgFile     string
	dbPath      string
	userFlag    string
	offlineFlag bool
	verbose     bool
	traceFlag   bool

	cfg             *config.Config
	logger          *logging.Logger
	shutdownTracing tracing.Shutdown
)

// longRunning marks commands that log at the configured level instead of
// the quieter one-shot default.
const longRunning = "long-running"

var rootCmd = &cobra.Command{
	Use:   "studysync",
	Short: "Offline-first sync for university coursework",
	Long: `studysync stores tasks, courses and resources in a local SQLite database
and reconciles them with a cloud document store and a secondary HTTP API.

Local writes always succeed first. Remote copies are brought up to date in the
background, retried with backoff while offline, and merged back on pull by
last-writer-wins on each record's modification time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if dbPath != "" {
			loaded.Database.Path = dbPath
		}
		if userFlag != "" {
			loaded.User.ID = userFlag
		}
		if offlineFlag {
			loaded.Sync.Offline = true
		}
		if traceFlag {
			loaded.Trace.Enabled = true
		}

		opts := loaded.LoggingOptions()
		switch {
		case verbose:
			opts.Level = "debug"
		case cmd.Annotations[longRunning] == "":
			opts.Level = "warn"
		}
		l, err := logging.New(opts)
		if err != nil {
			return err
		}

		shutdown, err := tracing.Init(cmd.Context(), loaded.TracingOptions(), l)
		if err != nil {
			return err
		}

		cfg = loaded
		logger = l
		shutdownTracing = shutdown
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdownTracing != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := shutdownTracing(ctx); err != nil && logger != nil {
				logger.Warn("trace flush failed", "error", err)
			}
			cancel()
			shutdownTracing = nil
		}
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.studysync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "local database path (overrides database.path)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user id (overrides user.id)")
	rootCmd.PersistentFlags().BoolVar(&offlineFlag, "offline", false, "skip all remote replicas")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false, "write OpenTelemetry spans (trace.file, default stderr)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if shutdownTracing != nil {
		// PersistentPostRun is skipped when a command fails.
		_ = shutdownTracing(context.Background())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
