package schema

import (
	"fmt"
	"strings"
)

// User is a registered student. Users have no sync metadata.
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	University      string `json:"university"`
	CurrentSemester string `json:"currentSemester"`
}

// Validate checks field values at an input boundary.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("email %q is not valid", u.Email)
	}
	return nil
}

// ScheduledNotification is a task reminder stored in the cloud for delivery
// by an external push service.
type ScheduledNotification struct {
	UserID        string `json:"userId"`
	TaskID        string `json:"taskId"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	ScheduledTime Millis `json:"scheduledTime"`
	CreatedAt     Millis `json:"createdAt"`
}

// NotificationKey returns the document key for a task reminder.
func NotificationKey(userID, taskID string) string {
	return userID + "_" + taskID
}

// Key returns the document key of n.
func (n *ScheduledNotification) Key() string {
	return NotificationKey(n.UserID, n.TaskID)
}
