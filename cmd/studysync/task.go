package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/store"
	"github.com/studysync/studysync/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "records",
	Short:   "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a task",
	Long: `Add a task. The due date accepts dates ("2025-05-01", "2025-05-01 17:00")
or phrases ("friday 5pm", "in 3 days").

Run without a title on a terminal to fill in a form instead.`,
	Args: cobra.MaximumNArgs(1),
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

		in := taskInput{}
		in.description, _ = cmd.Flags().GetString("desc")
		in.courseID, _ = cmd.Flags().GetString("course")
		in.due, _ = cmd.Flags().GetString("due")
		in.priority, _ = cmd.Flags().GetString("priority")
		in.typ, _ = cmd.Flags().GetString("type")
		if len(args) == 1 {
			in.title = args[0]
		}

		if in.title == "" {
			if !ui.IsInteractive() {
				return fmt.Errorf("a title is required")
			}
			courses, err := a.db.ListCourses(ctx, userID)
			if err != nil {
				return err
			}
			if err := runTaskForm(&in, courses); err != nil {
				return err
			}
		}

		task, err := in.build(userID, time.Now())
		if err != nil {
			return err
		}
		if task.CourseName, err = a.lookupCourse(ctx, task.CourseID); err != nil {
			return err
		}
		remind, _ := cmd.Flags().GetBool("remind")
		task.ReminderSet = remind && task.DueDate != nil
		if err := task.Validate(); err != nil {
			return err
		}

		receipt, err := a.engine.Create(ctx, task)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Task saved: %s %s\n", ui.RenderPass("✓"), task.Title, ui.RenderMuted(task.ID))
		a.waitPush(ctx, out, receipt)

		if remind {
			lead, _ := cmd.Flags().GetDuration("lead")
			if lead <= 0 {
				lead = a.cfg.Sync.ReminderLead
			}
			reportReminder(ctx, out, a, task, lead)
		}
		return nil
	},
}

// taskInput holds raw field values from flags or the form.
type taskInput struct {
	title, description, courseID, due, priority, typ string
}

func (in taskInput) build(userID string, now time.Time) (*schema.Task, error) {
	task := &schema.Task{
		ID:          schema.NewID(),
		UserID:      userID,
		Title:       strings.TrimSpace(in.title),
		Description: in.description,
		CourseID:    in.courseID,
		Priority:    schema.PriorityMedium,
	}
	if in.due != "" {
		due, err := parseDue(in.due, now)
		if err != nil {
			return nil, err
		}
		task.DueDate = &due
	}
	if in.priority != "" {
		p, err := schema.ParsePriority(in.priority)
		if err != nil {
			return nil, err
		}
		task.Priority = p
	}
	if in.typ != "" {
		t, err := schema.ParseTaskType(in.typ)
		if err != nil {
			return nil, err
		}
		task.Type = t
	}
	return task, nil
}

func runTaskForm(in *taskInput, courses []*schema.Course) error {
	if in.priority == "" {
		in.priority = schema.PriorityMedium.String()
	}
	if in.typ == "" {
		in.typ = schema.TaskAssignment.String()
	}

	fields := []huh.Field{
		huh.NewInput().Title("Title").Value(&in.title).Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("title is required")
			}
			return nil
		}),
		huh.NewText().Title("Description").Value(&in.description),
		huh.NewInput().Title("Due").Placeholder("friday 5pm").Value(&in.due).Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return nil
			}
			_, err := parseDue(s, time.Now())
			return err
		}),
		huh.NewSelect[string]().Title("Priority").Value(&in.priority).Options(
			huh.NewOption("Low", schema.PriorityLow.String()),
			huh.NewOption("Medium", schema.PriorityMedium.String()),
			huh.NewOption("High", schema.PriorityHigh.String()),
		),
		huh.NewSelect[string]().Title("Type").Value(&in.typ).Options(
			huh.NewOption("Assignment", schema.TaskAssignment.String()),
			huh.NewOption("Project", schema.TaskProject.String()),
			huh.NewOption("Exam", schema.TaskExam.String()),
			huh.NewOption("Reading", schema.TaskReading.String()),
		),
	}
	if len(courses) > 0 {
		opts := []huh.Option[string]{huh.NewOption("(none)", "")}
		for _, c := range courses {
			opts = append(opts, huh.NewOption(c.Name, c.ID))
		}
		fields = append(fields, huh.NewSelect[string]().Title("Course").Value(&in.courseID).Options(opts...))
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return fmt.Errorf("form cancelled: %w", err)
	}
	return nil
}

func reportReminder(ctx context.Context, out io.Writer, a *app, task *schema.Task, lead time.Duration) {
	n, err := a.engine.ScheduleReminder(ctx, task, lead)
	switch {
	case errors.Is(err, reconcile.ErrNoReminder):
		fmt.Fprintf(out, "   %s no reminder: %v\n", ui.RenderWarn("!"), err)
	case errors.Is(err, reconcile.ErrOffline):
		fmt.Fprintf(out, "   %s reminder not stored, offline\n", ui.RenderWarn("!"))
	case err != nil:
		fmt.Fprintf(out, "   %s reminder: %v\n", ui.RenderFail("✗"), err)
	default:
		fmt.Fprintf(out, "   %s reminder at %s\n", ui.RenderPass("✓"), n.ScheduledTime.Time().Local().Format(ui.DateLayout))
	}
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := a.userID()
		if err != nil {
			return err
		}
		tasks, err := a.db.ListTasks(ctx, userID)
		if err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		courseID, _ := cmd.Flags().GetString("course")
		filtered := tasks[:0]
		for _, t := range tasks {
			if !all && t.IsCompleted() {
				continue
			}
			if courseID != "" && t.CourseID != courseID {
				continue
			}
			filtered = append(filtered, t)
		}
		printTasks(cmd.OutOrStdout(), filtered)
		return nil
	},
}

var taskSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search task titles, descriptions, course names and tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := a.userID()
		if err != nil {
			return err
		}
		tasks, err := a.db.SearchTasks(ctx, userID, args[0])
		if err != nil {
			return err
		}
		printTasks(cmd.OutOrStdout(), tasks)
		return nil
	},
}

var taskUpcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "Show open tasks due soonest",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := a.userID()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		tasks, err := a.db.UpcomingTasks(ctx, userID, schema.Now(), limit)
		if err != nil {
			return err
		}
		printTasks(cmd.OutOrStdout(), tasks)
		return nil
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.db.GetTask(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("task %s not found", args[0])
		}
		if err != nil {
			return err
		}
		if task.IsCompleted() {
			fmt.Fprintf(out, "%s Task already completed\n", ui.RenderMuted("-"))
			return nil
		}

		hadReminder := task.ReminderSet
		task.Status = schema.StatusCompleted
		task.ReminderSet = false
		receipt, err := a.engine.Update(ctx, task)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Completed: %s\n", ui.RenderPass("✓"), task.Title)
		a.waitPush(ctx, out, receipt)

		if hadReminder {
			if err := a.engine.CancelReminder(ctx, task.UserID, task.ID); err != nil {
				fmt.Fprintf(out, "   %s reminder not cancelled: %v\n", ui.RenderWarn("!"), err)
			}
		}
		return nil
	},
}

var taskRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return deleteRecord(cmd, schema.KindTask, args[0])
	},
}

// deleteRecord removes a record of any kind and reports the remote deletes.
func deleteRecord(cmd *cobra.Command, kind schema.Kind, id string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	receipt, err := a.engine.Delete(ctx, kind, id)
	if err != nil {
		return err
	}
	if receipt.Removed == 0 {
		fmt.Fprintf(out, "%s No %s with id %s\n", ui.RenderWarn("!"), kind, id)
		return nil
	}
	fmt.Fprintf(out, "%s Deleted %s %s", ui.RenderPass("✓"), kind, id)
	if receipt.Removed > 1 {
		fmt.Fprintf(out, " and %d dependent records", receipt.Removed-1)
	}
	fmt.Fprintln(out)
	a.waitPush(ctx, out, receipt)
	return nil
}

var taskRemindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "List scheduled reminders, or clear them all",
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
		if !a.engine.Online() {
			return fmt.Errorf("reminders live in the cloud: %w", reconcile.ErrOffline)
		}

		if clearAll, _ := cmd.Flags().GetBool("clear"); clearAll {
			n, err := a.engine.CancelAllReminders(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s Cleared %d reminders\n", ui.RenderPass("✓"), n)
			return nil
		}

		reminders, err := a.cloud.Notifications(ctx, userID)
		if err != nil {
			return err
		}
		if len(reminders) == 0 {
			fmt.Fprintln(out, ui.RenderMuted("No reminders"))
			return nil
		}
		rows := make([][]string, 0, len(reminders))
		for _, n := range reminders {
			rows = append(rows, []string{
				n.TaskID,
				ui.Truncate(n.Title, 40),
				n.ScheduledTime.Time().Local().Format(ui.DateLayout),
			})
		}
		fmt.Fprintln(out, ui.RenderTable([]string{"Task", "Title", "Fires"}, rows))
		return nil
	},
}

func printTasks(w io.Writer, tasks []*schema.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No tasks"))
		return
	}
	now := time.Now()
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID,
			ui.Truncate(t.Title, 40),
			ui.Truncate(t.CourseName, 20),
			ui.FormatDue(t.DueDate, now),
			t.Priority.String(),
			t.Status.String(),
			ui.RenderSynced(t.IsSynced),
		})
	}
	fmt.Fprintln(w, ui.RenderTable([]string{"ID", "Title", "Course", "Due", "Priority", "Status", "Sync"}, rows))
}

func init() {
	taskAddCmd.Flags().StringP("desc", "d", "", "description")
	taskAddCmd.Flags().StringP("course", "c", "", "course id")
	taskAddCmd.Flags().String("due", "", "due date or phrase")
	taskAddCmd.Flags().StringP("priority", "p", "", "low, medium or high (default medium)")
	taskAddCmd.Flags().StringP("type", "t", "", "assignment, project, exam or reading")
	taskAddCmd.Flags().Bool("remind", false, "schedule a reminder before the due date")
	taskAddCmd.Flags().Duration("lead", 0, "reminder lead time (default sync.reminder_lead)")

	taskListCmd.Flags().BoolP("all", "a", false, "include completed tasks")
	taskListCmd.Flags().StringP("course", "c", "", "only tasks of this course id")

	taskUpcomingCmd.Flags().IntP("limit", "n", 10, "maximum tasks shown")

	taskRemindersCmd.Flags().Bool("clear", false, "cancel every scheduled reminder")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskSearchCmd, taskUpcomingCmd, taskDoneCmd, taskRmCmd, taskRemindersCmd)
	rootCmd.AddCommand(taskCmd)
}
