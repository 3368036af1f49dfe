package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/studysync/studysync/internal/loadtest"
	"github.com/studysync/studysync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "setup",
	Short:   "Simulate several devices syncing through one cloud",
	Long: `Simulate several devices writing concurrently against a shared in-memory
cloud and check that they converge.

Each device gets its own SQLite database in a temporary directory:
  1. Every device creates its own courses and tasks
  2. Every device edits its own tasks concurrently
  3. Every device runs a full sync
  4. All local databases are compared with the cloud

Examples:
  # Default run (4 devices, 25 tasks and 50 edits each)
  studysync bench

  # A larger fleet
  studysync bench --devices 16 --tasks 200 --edits 500

  # Machine-readable results
  studysync bench --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, _ := cmd.Flags().GetInt("devices")
		courses, _ := cmd.Flags().GetInt("courses")
		tasks, _ := cmd.Flags().GetInt("tasks")
		edits, _ := cmd.Flags().GetInt("edits")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if devices <= 0 || tasks <= 0 || courses <= 0 {
			return fmt.Errorf("--devices, --courses and --tasks must be positive")
		}
		if edits < 0 {
			return fmt.Errorf("--edits must not be negative")
		}

		out := cmd.OutOrStdout()
		if !jsonOutput {
			fmt.Fprintf(out, "%s Simulating %d devices (%d tasks, %d edits each)\n",
				ui.RenderAccent("⏱"), devices, tasks, edits)
		}

		res, err := loadtest.Run(cmd.Context(), loadtest.Config{
			Devices:        devices,
			Courses:        courses,
			TasksPerDevice: tasks,
			EditsPerDevice: edits,
			Log:            logger,
		})
		if jsonOutput && res != nil {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(res); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return nil
		}

		fmt.Fprintf(out, "\nSeeded %d courses and %d tasks in %v\n",
			res.Courses, res.Tasks, res.Seed.Round(time.Millisecond))
		res.Writes.PrintStats(out)
		fmt.Fprintf(out, "Pushes: %d acked, %d superseded, %d failed\n",
			res.Pushes.Acked, res.Pushes.Superseded, res.Pushes.Failed)
		fmt.Fprintf(out, "Converged in %v (%d records merged)\n",
			res.Converge.Round(time.Millisecond), res.Merged)
		fmt.Fprintf(out, "%s All %d devices match the cloud\n", ui.RenderPass("✓"), res.Devices)
		return nil
	},
}

func init() {
	benchCmd.Flags().Int("devices", 4, "Number of simulated devices")
	benchCmd.Flags().Int("courses", 3, "Courses created per device")
	benchCmd.Flags().Int("tasks", 25, "Tasks created per device")
	benchCmd.Flags().Int("edits", 50, "Task edits per device")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}
