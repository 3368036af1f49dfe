package schema

import (
	"fmt"
	"strings"
)

// Priority of a task.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// TaskStatus is the progress state of a task.
type TaskStatus int

const (
	StatusNotStarted TaskStatus = iota
	StatusInProgress
	StatusCompleted
)

func (s TaskStatus) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TaskType classifies a task.
type TaskType int

const (
	TaskAssignment TaskType = iota
	TaskProject
	TaskExam
	TaskReading
)

func (t TaskType) String() string {
	switch t {
	case TaskAssignment:
		return "assignment"
	case TaskProject:
		return "project"
	case TaskExam:
		return "exam"
	case TaskReading:
		return "reading"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParsePriority accepts a name ("high") or its numeric value ("2").
func ParsePriority(s string) (Priority, error) {
	for p := PriorityLow; p <= PriorityHigh; p++ {
		if strings.EqualFold(s, p.String()) || s == fmt.Sprint(int(p)) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q (want low, medium or high)", s)
}

// ParseTaskType accepts a name ("exam") or its numeric value ("2").
func ParseTaskType(s string) (TaskType, error) {
	for t := TaskAssignment; t <= TaskReading; t++ {
		if strings.EqualFold(s, t.String()) || s == fmt.Sprint(int(t)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown task type %q", s)
}

// Task is a unit of coursework.
type Task struct {
	// ===== Identification =====
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// ===== Content =====
	Title       string `json:"title"`
	Description string `json:"description"`
	CourseID    string `json:"courseId"`
	CourseName  string `json:"courseName"` // denormalised for display and search

	// ===== Scheduling =====
	DueDate     *Millis    `json:"dueDate,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      TaskStatus `json:"status"`
	Type        TaskType   `json:"type"`
	ReminderSet bool       `json:"reminderSet"`

	// Grade is 0 when unset, otherwise in (0, 100].
	Grade float64 `json:"grade"`

	// ===== Sync metadata =====
	IsSynced    bool   `json:"isSynced"`
	LastUpdated Millis `json:"lastUpdated"`
}

func (t *Task) Kind() Kind       { return KindTask }
func (t *Task) RecordID() string { return t.ID }
func (t *Task) OwnerID() string  { return t.UserID }
func (t *Task) Modified() Millis { return t.LastUpdated }
func (t *Task) Synced() bool     { return t.IsSynced }

// Touch implements Record.
func (t *Task) Touch(now Millis) {
	t.LastUpdated = now
	t.IsSynced = false
}

// SetSynced implements Record.
func (t *Task) SetSynced(synced bool) { t.IsSynced = synced }

// Clone implements Record.
func (t *Task) Clone() Record { return t.Copy() }

// Copy returns a deep copy of the task.
func (t *Task) Copy() *Task {
	c := *t
	if t.DueDate != nil {
		due := *t.DueDate
		c.DueDate = &due
	}
	return &c
}

// Equal reports whether two tasks hold identical values.
func (t *Task) Equal(o *Task) bool {
	if t == nil || o == nil {
		return t == o
	}
	if (t.DueDate == nil) != (o.DueDate == nil) {
		return false
	}
	if t.DueDate != nil && *t.DueDate != *o.DueDate {
		return false
	}
	a, b := *t, *o
	a.DueDate, b.DueDate = nil, nil
	return a == b
}

// IsCompleted reports whether the task is done.
func (t *Task) IsCompleted() bool {
	return t.Status == StatusCompleted
}

// Validate checks field values at an input boundary.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if t.Priority < PriorityLow || t.Priority > PriorityHigh {
		return fmt.Errorf("priority must be between 0 and 2 (got %d)", t.Priority)
	}
	if t.Status < StatusNotStarted || t.Status > StatusCompleted {
		return fmt.Errorf("status must be between 0 and 2 (got %d)", t.Status)
	}
	if t.Type < TaskAssignment || t.Type > TaskReading {
		return fmt.Errorf("type must be between 0 and 3 (got %d)", t.Type)
	}
	if t.Grade < 0 || t.Grade > 100 {
		return fmt.Errorf("grade must be 0 (unset) or in (0, 100] (got %g)", t.Grade)
	}
	return nil
}
