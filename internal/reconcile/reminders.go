package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studysync/studysync/internal/schema"
)

// ErrNoReminder is returned when a task does not qualify for a reminder.
var ErrNoReminder = errors.New("no reminder scheduled")

// ReminderTimeLayout formats the due time in reminder bodies.
const ReminderTimeLayout = "Jan 02, 2006 - 03:04 PM"

// ScheduleReminder stores a reminder document lead before task's due date.
// Completed tasks, tasks without a due date, and reminders whose time has
// already passed are refused with ErrNoReminder. Delivery is left to
// whatever consumes the scheduledNotifications collection.
func (e *Engine) ScheduleReminder(ctx context.Context, task *schema.Task, lead time.Duration) (*schema.ScheduledNotification, error) {
	if task.IsCompleted() {
		return nil, fmt.Errorf("%w: task is completed", ErrNoReminder)
	}
	if task.DueDate == nil {
		return nil, fmt.Errorf("%w: task has no due date", ErrNoReminder)
	}
	now := e.now()
	due := task.DueDate.Time()
	if !due.After(now) {
		return nil, fmt.Errorf("%w: task is past due", ErrNoReminder)
	}
	at := due.Add(-lead)
	if !at.After(now) {
		return nil, fmt.Errorf("%w: reminder time has passed", ErrNoReminder)
	}

	n := &schema.ScheduledNotification{
		UserID:        task.UserID,
		TaskID:        task.ID,
		Title:         task.Title,
		Content:       fmt.Sprintf("%s - Due %s", task.CourseName, due.Local().Format(ReminderTimeLayout)),
		ScheduledTime: schema.FromTime(at),
		CreatedAt:     schema.FromTime(now),
	}
	if !e.gate.Online() {
		return n, ErrOffline
	}

	ctx, span := e.startSpan(ctx, "cloud.put_notification", schema.KindTask, task.ID)
	defer span.End()
	if err := e.cloud.PutNotification(ctx, n); err != nil {
		recordSpanError(span, err)
		return n, fmt.Errorf("failed to store reminder: %w", err)
	}
	e.log.Info("reminder scheduled", "task", task.ID, "at", at.Format(time.RFC3339))
	return n, nil
}

// CancelReminder removes the reminder for one task.
func (e *Engine) CancelReminder(ctx context.Context, userID, taskID string) error {
	if !e.gate.Online() {
		return ErrOffline
	}
	if err := e.cloud.DeleteNotification(ctx, userID, taskID); err != nil {
		return fmt.Errorf("failed to cancel reminder: %w", err)
	}
	return nil
}

// CancelAllReminders removes every reminder owned by userID and returns how
// many were removed.
func (e *Engine) CancelAllReminders(ctx context.Context, userID string) (int, error) {
	if !e.gate.Online() {
		return 0, ErrOffline
	}
	n, err := e.cloud.DeleteNotificationsForUser(ctx, userID)
	if err != nil {
		return n, fmt.Errorf("failed to cancel reminders: %w", err)
	}
	e.log.Info("reminders cancelled", "user", userID, "count", n)
	return n, nil
}
