package schema

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Course is a class the user is enrolled in.
type Course struct {
	ID              string `json:"id"`
	UserID          string `json:"userId"`
	Name            string `json:"name"`
	Code            string `json:"code"`
	InstructorName  string `json:"instructorName"`
	InstructorEmail string `json:"instructorEmail"`
	Room            string `json:"room"`
	// DayOfWeek holds weekdays, 0=Sunday .. 6=Saturday, conventionally ascending.
	DayOfWeek   []int  `json:"dayOfWeek"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Semester    string `json:"semester"`
	CreditHours int    `json:"creditHours"`
	Color       int    `json:"color"`

	IsSynced     bool   `json:"isSynced"`
	LastModified Millis `json:"lastModified"`
}

func (c *Course) Kind() Kind            { return KindCourse }
func (c *Course) RecordID() string      { return c.ID }
func (c *Course) OwnerID() string       { return c.UserID }
func (c *Course) Modified() Millis      { return c.LastModified }
func (c *Course) Synced() bool          { return c.IsSynced }
func (c *Course) SetSynced(synced bool) { c.IsSynced = synced }
func (c *Course) Clone() Record         { return c.Copy() }

func (c *Course) Touch(now Millis) {
	c.LastModified = now
	c.IsSynced = false
}

// Copy returns a deep copy of the course.
func (c *Course) Copy() *Course {
	cp := *c
	cp.DayOfWeek = slices.Clone(c.DayOfWeek)
	return &cp
}

// Equal reports whether two courses hold identical values. A nil and an
// empty weekday set compare equal.
func (c *Course) Equal(o *Course) bool {
	if c == nil || o == nil {
		return c == o
	}
	if !slices.Equal(c.DayOfWeek, o.DayOfWeek) {
		return false
	}
	a, b := *c, *o
	a.DayOfWeek, b.DayOfWeek = nil, nil
	return reflect.DeepEqual(a, b)
}

// Validate checks field values at an input boundary.
func (c *Course) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	for _, d := range c.DayOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("day of week must be between 0 and 6 (got %d)", d)
		}
	}
	if c.CreditHours < 0 {
		return fmt.Errorf("credit hours cannot be negative")
	}
	return nil
}
