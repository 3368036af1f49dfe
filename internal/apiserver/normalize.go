package apiserver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/studysync/studysync/internal/apiclient"
	"github.com/studysync/studysync/internal/schema"
)

// aliases maps a logical field to the body keys accepted for it, in
// precedence order. snake_case comes first so an explicit snake_case value
// wins when a client sends both spellings.
type aliases map[string][]string

var resourceAliases = aliases{
	"id":             {"id"},
	"user_id":        {"user_id", "userId"},
	"title":          {"title"},
	"description":    {"description"},
	"course_id":      {"course_id", "courseId"},
	"course_name":    {"course_name", "courseName"},
	"type":           {"type"},
	"file_path":      {"file_path", "filePath"},
	"tags":           {"tags"},
	"date_added":     {"date_added", "dateAdded"},
	"last_updated":   {"last_updated", "lastUpdated", "last_modified", "lastModified"},
	"thumbnail_path": {"thumbnail_path", "thumbnailPath"},
}

var taskAliases = aliases{
	"id":           {"id"},
	"user_id":      {"user_id", "userId"},
	"title":        {"title"},
	"description":  {"description"},
	"course_id":    {"course_id", "courseId"},
	"course_name":  {"course_name", "courseName"},
	"due_date":     {"due_date", "dueDate"},
	"priority":     {"priority"},
	"status":       {"status"},
	"type":         {"type"},
	"reminder_set": {"reminder_set", "reminderSet"},
	"grade":        {"grade"},
	"last_updated": {"last_updated", "lastUpdated", "last_modified", "lastModified"},
}

// pick returns the first present, non-null value for field.
func (a aliases) pick(body map[string]any, field string) (any, bool) {
	for _, key := range a[field] {
		if v, ok := body[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (a aliases) str(body map[string]any, field string) string {
	v, ok := a.pick(body, field)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func (a aliases) integer(body map[string]any, field string) (int64, error) {
	v, ok := a.pick(body, field)
	if !ok {
		return 0, nil
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Errorf("field %s: %v is not a number", field, v)
	}
	return n, nil
}

func (a aliases) float(body map[string]any, field string) (float64, error) {
	v, ok := a.pick(body, field)
	if !ok {
		return 0, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %q is not a number", field, t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %s: %v is not a number", field, v)
	}
}

func (a aliases) boolean(body map[string]any, field string) bool {
	v, ok := a.pick(body, field)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	default:
		return false
	}
}

// timestamp returns epoch millis for field, or ok=false when the value is
// absent or cannot be parsed.
func (a aliases) timestamp(body map[string]any, field string) (int64, bool) {
	v, ok := a.pick(body, field)
	if !ok {
		return 0, false
	}
	if n, ok := toInt64(v); ok && n > 0 {
		return n, true
	}
	if s, ok := v.(string); ok {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return t.UnixMilli(), true
			}
		}
	}
	return 0, false
}

// tags normalises the tags field into a list. A JSON-array string is
// decoded, any other scalar is wrapped into a single-element list.
func (a aliases) tags(body map[string]any) []string {
	v, ok := a.pick(body, "tags")
	if !ok {
		return []string{}
	}
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	case string:
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "[") {
			var list []string
			if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
				return list
			}
		}
		if trimmed == "" {
			return []string{}
		}
		return []string{t}
	default:
		return []string{fmt.Sprint(t)}
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// normalizeResource maps a field-tolerant body onto a resource row. Missing
// or unparsable timestamps default to now.
func normalizeResource(body map[string]any, now schema.Millis) (*apiclient.ResourceRow, error) {
	a := resourceAliases
	typ, err := a.integer(body, "type")
	if err != nil {
		return nil, err
	}
	row := &apiclient.ResourceRow{
		ID:            a.str(body, "id"),
		UserID:        a.str(body, "user_id"),
		Title:         a.str(body, "title"),
		Description:   a.str(body, "description"),
		CourseID:      a.str(body, "course_id"),
		CourseName:    a.str(body, "course_name"),
		Type:          int(typ),
		FilePath:      a.str(body, "file_path"),
		Tags:          a.tags(body),
		ThumbnailPath: a.str(body, "thumbnail_path"),
	}
	var ok bool
	if row.DateAdded, ok = a.timestamp(body, "date_added"); !ok {
		row.DateAdded = int64(now)
	}
	if row.LastUpdated, ok = a.timestamp(body, "last_updated"); !ok {
		row.LastUpdated = int64(now)
	}
	return row, nil
}

// normalizeTask maps a field-tolerant body onto a task row.
func normalizeTask(body map[string]any, now schema.Millis) (*apiclient.TaskRow, error) {
	a := taskAliases
	row := &apiclient.TaskRow{
		ID:          a.str(body, "id"),
		UserID:      a.str(body, "user_id"),
		Title:       a.str(body, "title"),
		Description: a.str(body, "description"),
		CourseID:    a.str(body, "course_id"),
		CourseName:  a.str(body, "course_name"),
		ReminderSet: a.boolean(body, "reminder_set"),
	}
	ints := []struct {
		field string
		dst   *int
	}{
		{"priority", &row.Priority},
		{"status", &row.Status},
		{"type", &row.Type},
	}
	for _, f := range ints {
		n, err := a.integer(body, f.field)
		if err != nil {
			return nil, err
		}
		*f.dst = int(n)
	}
	grade, err := a.float(body, "grade")
	if err != nil {
		return nil, err
	}
	row.Grade = grade
	if due, ok := a.timestamp(body, "due_date"); ok {
		row.DueDate = &due
	}
	var ok bool
	if row.LastUpdated, ok = a.timestamp(body, "last_updated"); !ok {
		row.LastUpdated = int64(now)
	}
	return row, nil
}
