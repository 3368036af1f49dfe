package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/studysync/studysync/internal/schema"
)

const taskColumns = `id, user_id, title, description, course_id, course_name,
	due_date, priority, status, type, reminder_set, grade, is_synced, last_updated`

// UpsertTask inserts or replaces a task by id.
func (db *DB) UpsertTask(ctx context.Context, t *schema.Task) error {
	query := `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		title = excluded.title,
		description = excluded.description,
		course_id = excluded.course_id,
		course_name = excluded.course_name,
		due_date = excluded.due_date,
		priority = excluded.priority,
		status = excluded.status,
		type = excluded.type,
		reminder_set = excluded.reminder_set,
		grade = excluded.grade,
		is_synced = excluded.is_synced,
		last_updated = excluded.last_updated
	`
	_, err := db.conn.ExecContext(ctx, query, taskArgs(t)...)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask returns the task with id, or ErrNotFound.
func (db *DB) GetTask(ctx context.Context, id string) (*schema.Task, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns a user's tasks ordered by due date ascending. Tasks
// without a due date sort last.
func (db *DB) ListTasks(ctx context.Context, userID string) ([]*schema.Task, error) {
	return db.queryTasks(ctx, `WHERE user_id = ? ORDER BY due_date IS NULL, due_date ASC, title ASC`, userID)
}

// UpdateTask overwrites an existing task and returns the number of rows
// changed (0 when the task does not exist).
func (db *DB) UpdateTask(ctx context.Context, t *schema.Task) (int64, error) {
	query := `
	UPDATE tasks SET
		user_id = ?, title = ?, description = ?, course_id = ?, course_name = ?,
		due_date = ?, priority = ?, status = ?, type = ?, reminder_set = ?,
		grade = ?, is_synced = ?, last_updated = ?
	WHERE id = ?
	`
	args := append(taskArgs(t)[1:], t.ID)
	res, err := db.conn.ExecContext(ctx, query, args...)
	return affected(res, err, "update task "+t.ID)
}

// DeleteTask removes a task and returns the number of rows removed.
func (db *DB) DeleteTask(ctx context.Context, id string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return affected(res, err, "delete task "+id)
}

func taskArgs(t *schema.Task) []any {
	var due sql.NullInt64
	if t.DueDate != nil {
		due = sql.NullInt64{Int64: int64(*t.DueDate), Valid: true}
	}
	return []any{
		t.ID,
		t.UserID,
		t.Title,
		t.Description,
		t.CourseID,
		t.CourseName,
		due,
		int(t.Priority),
		int(t.Status),
		int(t.Type),
		boolToInt(t.ReminderSet),
		t.Grade,
		boolToInt(t.IsSynced),
		int64(t.LastUpdated),
	}
}

func (db *DB) queryTasks(ctx context.Context, clause string, args ...any) ([]*schema.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*schema.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(s scanner) (*schema.Task, error) {
	var t schema.Task
	var due sql.NullInt64
	var priority, status, typ, reminder, synced int
	var updated int64

	err := s.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.Description,
		&t.CourseID,
		&t.CourseName,
		&due,
		&priority,
		&status,
		&typ,
		&reminder,
		&t.Grade,
		&synced,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if due.Valid {
		d := schema.Millis(due.Int64)
		t.DueDate = &d
	}
	t.Priority = schema.Priority(priority)
	t.Status = schema.TaskStatus(status)
	t.Type = schema.TaskType(typ)
	t.ReminderSet = reminder != 0
	t.IsSynced = synced != 0
	t.LastUpdated = schema.Millis(updated)
	return &t, nil
}
