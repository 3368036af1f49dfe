package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/store"
	"github.com/studysync/studysync/internal/ui"
)

var resourceCmd = &cobra.Command{
	Use:     "resource",
	GroupID: "records",
	Short:   "Manage study resources (notes, images, documents, links)",
}

var resourceAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a resource",
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
		res := &schema.Resource{
			ID:     schema.NewID(),
			UserID: userID,
			Title:  strings.TrimSpace(args[0]),
		}
		res.Description, _ = flags.GetString("desc")
		res.CourseID, _ = flags.GetString("course")
		res.FilePath, _ = flags.GetString("path")
		tags, _ := flags.GetStringSlice("tags")
		res.Tags = schema.CleanTags(tags)
		typ, _ := flags.GetString("type")
		if res.Type, err = schema.ParseResourceType(typ); err != nil {
			return err
		}
		if res.CourseName, err = a.lookupCourse(ctx, res.CourseID); err != nil {
			return err
		}
		if err := res.Validate(); err != nil {
			return err
		}

		receipt, err := a.engine.Create(ctx, res)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Resource saved: %s %s\n", ui.RenderPass("✓"), res.Title, ui.RenderMuted(res.ID))
		a.waitPush(ctx, out, receipt)
		return nil
	},
}

var resourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources, newest first",
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

		courseID, _ := cmd.Flags().GetString("course")
		q, _ := cmd.Flags().GetString("search")
		var resources []*schema.Resource
		switch {
		case q != "":
			resources, err = a.db.SearchResources(ctx, userID, q)
		case courseID != "":
			resources, err = a.db.ListResourcesForCourse(ctx, courseID)
		default:
			resources, err = a.db.ListResources(ctx, userID)
		}
		if err != nil {
			return err
		}
		printResources(cmd.OutOrStdout(), resources)
		return nil
	},
}

var resourceRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a resource",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return deleteRecord(cmd, schema.KindResource, args[0])
	},
}

var resourceUploadCmd = &cobra.Command{
	Use:   "upload <id> <file>",
	Short: "Upload a file for a resource to the secondary API",
	Long: `Upload a file to the secondary API and record the server-side path on the
resource. The updated resource is then pushed like any other edit.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.secondary == nil {
			return fmt.Errorf("no secondary API configured (set secondary.url)")
		}
		if !a.gate.Online() {
			return fmt.Errorf("cannot upload while offline")
		}

		res, err := a.db.GetResource(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("resource %s not found", args[0])
		}
		if err != nil {
			return err
		}

		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[1], err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", args[1], err)
		}

		remotePath, err := a.secondary.Upload(ctx, res.ID, filepath.Base(args[1]), f)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		fmt.Fprintf(out, "%s Uploaded %s (%s) to %s\n", ui.RenderPass("✓"),
			filepath.Base(args[1]), ui.FormatSize(info.Size()), remotePath)

		res.FilePath = remotePath
		receipt, err := a.engine.Update(ctx, res)
		if err != nil {
			return err
		}
		a.waitPush(ctx, out, receipt)
		return nil
	},
}

func printResources(w io.Writer, resources []*schema.Resource) {
	if len(resources) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No resources"))
		return
	}
	rows := make([][]string, 0, len(resources))
	for _, r := range resources {
		rows = append(rows, []string{
			r.ID,
			ui.Truncate(r.Title, 32),
			r.Type.String(),
			ui.Truncate(r.CourseName, 20),
			strings.Join(r.Tags, ", "),
			r.DateAdded.Time().Local().Format("2006-01-02"),
			ui.RenderSynced(r.IsSynced),
		})
	}
	fmt.Fprintln(w, ui.RenderTable([]string{"ID", "Title", "Type", "Course", "Tags", "Added", "Sync"}, rows))
}

func init() {
	f := resourceAddCmd.Flags()
	f.StringP("type", "t", "note", "note, image, document or link")
	f.StringP("desc", "d", "", "description")
	f.StringP("course", "c", "", "course id")
	f.String("path", "", "file path or URL")
	f.StringSlice("tags", nil, "comma-separated tags")

	resourceListCmd.Flags().StringP("course", "c", "", "only resources of this course id")
	resourceListCmd.Flags().StringP("search", "s", "", "filter by title, description, course or tags")

	resourceCmd.AddCommand(resourceAddCmd, resourceListCmd, resourceRmCmd, resourceUploadCmd)
	rootCmd.AddCommand(resourceCmd)
}
