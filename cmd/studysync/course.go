package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/ui"
)

var courseCmd = &cobra.Command{
	Use:     "course",
	GroupID: "records",
	Short:   "Manage courses",
}

var courseAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a course",
	Args:  cobra.ExactArgs(1),
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

		flags := cmd.Flags()
		course := &schema.Course{
			ID:     schema.NewID(),
			UserID: userID,
			Name:   strings.TrimSpace(args[0]),
		}
		course.Code, _ = flags.GetString("code")
		course.InstructorName, _ = flags.GetString("instructor")
		course.InstructorEmail, _ = flags.GetString("email")
		course.Room, _ = flags.GetString("room")
		course.StartTime, _ = flags.GetString("start")
		course.EndTime, _ = flags.GetString("end")
		course.Semester, _ = flags.GetString("semester")
		course.CreditHours, _ = flags.GetInt("credits")
		course.Color, _ = flags.GetInt("color")

		days, _ := flags.GetString("days")
		if course.DayOfWeek, err = schema.SplitDays(days); err != nil {
			return err
		}
		if err := course.Validate(); err != nil {
			return err
		}

		receipt, err := a.engine.Create(ctx, course)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Course saved: %s %s\n", ui.RenderPass("✓"), course.Name, ui.RenderMuted(course.ID))
		a.waitPush(ctx, out, receipt)
		return nil
	},
}

var courseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List courses",
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

		var courses []*schema.Course
		if q, _ := cmd.Flags().GetString("search"); q != "" {
			courses, err = a.db.SearchCourses(ctx, userID, q)
		} else {
			courses, err = a.db.ListCourses(ctx, userID)
		}
		if err != nil {
			return err
		}
		printCourses(cmd.OutOrStdout(), courses)
		return nil
	},
}

var courseRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a course with its tasks and resources",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return deleteRecord(cmd, schema.KindCourse, args[0])
	},
}

var weekdayNames = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func formatDays(days []int) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(weekdayNames) {
			names = append(names, weekdayNames[d])
		} else {
			names = append(names, strconv.Itoa(d))
		}
	}
	return strings.Join(names, " ")
}

func printCourses(w io.Writer, courses []*schema.Course) {
	if len(courses) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No courses"))
		return
	}
	rows := make([][]string, 0, len(courses))
	for _, c := range courses {
		schedule := formatDays(c.DayOfWeek)
		if c.StartTime != "" {
			schedule = strings.TrimSpace(fmt.Sprintf("%s %s-%s", schedule, c.StartTime, c.EndTime))
		}
		rows = append(rows, []string{
			c.ID,
			c.Code,
			ui.Truncate(c.Name, 32),
			ui.Truncate(c.InstructorName, 20),
			schedule,
			c.Room,
			ui.RenderSynced(c.IsSynced),
		})
	}
	fmt.Fprintln(w, ui.RenderTable([]string{"ID", "Code", "Name", "Instructor", "Schedule", "Room", "Sync"}, rows))
}

func init() {
	f := courseAddCmd.Flags()
	f.String("code", "", "course code, e.g. PHY101")
	f.String("instructor", "", "instructor name")
	f.String("email", "", "instructor email")
	f.String("room", "", "room")
	f.String("days", "", "weekdays as numbers, 0=Sunday (e.g. 1,3)")
	f.String("start", "", "start time, HH:MM")
	f.String("end", "", "end time, HH:MM")
	f.String("semester", "", "semester")
	f.Int("credits", 0, "credit hours")
	f.Int("color", 0, "display colour (ARGB integer)")

	courseListCmd.Flags().StringP("search", "s", "", "filter by name, code or instructor")

	courseCmd.AddCommand(courseAddCmd, courseListCmd, courseRmCmd)
	rootCmd.AddCommand(courseCmd)
}
