package apiclient

import (
	"encoding/json"

	"github.com/studysync/studysync/internal/schema"
)

// Wire shapes of the secondary API. Field names are snake_case; the server
// also accepts camelCase on ingress.

// ResourceRow is a resource as stored and echoed by the secondary API.
type ResourceRow struct {
	ID            string   `json:"id"`
	UserID        string   `json:"user_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	CourseID      string   `json:"course_id"`
	CourseName    string   `json:"course_name"`
	Type          int      `json:"type"`
	FilePath      string   `json:"file_path"`
	Tags          []string `json:"tags"`
	DateAdded     int64    `json:"date_added"`
	LastUpdated   int64    `json:"last_updated"`
	ThumbnailPath string   `json:"thumbnail_path"`
}

// TaskRow is a task as stored and echoed by the secondary API.
type TaskRow struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	CourseID    string  `json:"course_id"`
	CourseName  string  `json:"course_name"`
	DueDate     *int64  `json:"due_date"`
	Priority    int     `json:"priority"`
	Status      int     `json:"status"`
	Type        int     `json:"type"`
	ReminderSet bool    `json:"reminder_set"`
	Grade       float64 `json:"grade"`
	LastUpdated int64   `json:"last_updated"`
}

// ResourceRowFrom converts a resource to its wire row.
func ResourceRowFrom(r *schema.Resource) *ResourceRow {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return &ResourceRow{
		ID:            r.ID,
		UserID:        r.UserID,
		Title:         r.Title,
		Description:   r.Description,
		CourseID:      r.CourseID,
		CourseName:    r.CourseName,
		Type:          int(r.Type),
		FilePath:      r.FilePath,
		Tags:          tags,
		DateAdded:     int64(r.DateAdded),
		LastUpdated:   int64(r.LastModified),
		ThumbnailPath: r.ThumbnailPath,
	}
}

// Resource converts a wire row back to a resource. Sync metadata other than
// the timestamp is not carried by the API.
func (row *ResourceRow) Resource() *schema.Resource {
	tags := row.Tags
	if tags == nil {
		tags = []string{}
	}
	return &schema.Resource{
		ID:            row.ID,
		UserID:        row.UserID,
		Title:         row.Title,
		Description:   row.Description,
		CourseID:      row.CourseID,
		CourseName:    row.CourseName,
		Type:          schema.ResourceType(row.Type),
		FilePath:      row.FilePath,
		Tags:          tags,
		DateAdded:     schema.Millis(row.DateAdded),
		LastModified:  schema.Millis(row.LastUpdated),
		ThumbnailPath: row.ThumbnailPath,
	}
}

// TaskRowFrom converts a task to its wire row.
func TaskRowFrom(t *schema.Task) *TaskRow {
	row := &TaskRow{
		ID:          t.ID,
		UserID:      t.UserID,
		Title:       t.Title,
		Description: t.Description,
		CourseID:    t.CourseID,
		CourseName:  t.CourseName,
		Priority:    int(t.Priority),
		Status:      int(t.Status),
		Type:        int(t.Type),
		ReminderSet: t.ReminderSet,
		Grade:       t.Grade,
		LastUpdated: int64(t.LastUpdated),
	}
	if t.DueDate != nil {
		d := int64(*t.DueDate)
		row.DueDate = &d
	}
	return row
}

// Task converts a wire row back to a task.
func (row *TaskRow) Task() *schema.Task {
	t := &schema.Task{
		ID:          row.ID,
		UserID:      row.UserID,
		Title:       row.Title,
		Description: row.Description,
		CourseID:    row.CourseID,
		CourseName:  row.CourseName,
		Priority:    schema.Priority(row.Priority),
		Status:      schema.TaskStatus(row.Status),
		Type:        schema.TaskType(row.Type),
		ReminderSet: row.ReminderSet,
		Grade:       row.Grade,
		LastUpdated: schema.Millis(row.LastUpdated),
	}
	if row.DueDate != nil {
		d := schema.Millis(*row.DueDate)
		t.DueDate = &d
	}
	return t
}

// Envelope is the structured response of every write endpoint.
type Envelope struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     int             `json:"code,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	FilePath string          `json:"file_path,omitempty"`
}

// Path returns the endpoint path serving kind, or "" if the API does not
// mirror it.
func Path(kind schema.Kind) string {
	switch kind {
	case schema.KindResource:
		return "/resources"
	case schema.KindTask:
		return "/tasks"
	default:
		return ""
	}
}

// NotFoundMessage is the error text the API returns for a missing record.
func NotFoundMessage(kind schema.Kind) string {
	switch kind {
	case schema.KindTask:
		return "Task not found"
	default:
		return "Resource not found"
	}
}
