package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/studysync/studysync/internal/schema"
)

const courseColumns = `id, user_id, name, code, instructor_name, instructor_email, room,
	day_of_week, start_time, end_time, semester, credit_hours, color, is_synced, last_modified`

// UpsertCourse inserts or replaces a course by id. Weekdays are stored
// sorted ascending.
func (db *DB) UpsertCourse(ctx context.Context, c *schema.Course) error {
	query := `
	INSERT INTO courses (` + courseColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		name = excluded.name,
		code = excluded.code,
		instructor_name = excluded.instructor_name,
		instructor_email = excluded.instructor_email,
		room = excluded.room,
		day_of_week = excluded.day_of_week,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		semester = excluded.semester,
		credit_hours = excluded.credit_hours,
		color = excluded.color,
		is_synced = excluded.is_synced,
		last_modified = excluded.last_modified
	`
	if _, err := db.conn.ExecContext(ctx, query, courseArgs(c)...); err != nil {
		return fmt.Errorf("failed to upsert course %s: %w", c.ID, err)
	}
	return nil
}

// GetCourse returns the course with id, or ErrNotFound.
func (db *DB) GetCourse(ctx context.Context, id string) (*schema.Course, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id)
	c, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("course %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCourses returns a user's courses ordered by name.
func (db *DB) ListCourses(ctx context.Context, userID string) ([]*schema.Course, error) {
	return db.queryCourses(ctx, `WHERE user_id = ? ORDER BY name ASC`, userID)
}

// UpdateCourse overwrites an existing course and returns the number of rows
// changed.
func (db *DB) UpdateCourse(ctx context.Context, c *schema.Course) (int64, error) {
	query := `
	UPDATE courses SET
		user_id = ?, name = ?, code = ?, instructor_name = ?, instructor_email = ?,
		room = ?, day_of_week = ?, start_time = ?, end_time = ?, semester = ?,
		credit_hours = ?, color = ?, is_synced = ?, last_modified = ?
	WHERE id = ?
	`
	args := append(courseArgs(c)[1:], c.ID)
	res, err := db.conn.ExecContext(ctx, query, args...)
	return affected(res, err, "update course "+c.ID)
}

// DeleteCourse removes only the course row. See DeleteCourseCascade.
func (db *DB) DeleteCourse(ctx context.Context, id string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, id)
	return affected(res, err, "delete course "+id)
}

func courseArgs(c *schema.Course) []any {
	return []any{
		c.ID,
		c.UserID,
		c.Name,
		c.Code,
		c.InstructorName,
		c.InstructorEmail,
		c.Room,
		schema.JoinDays(c.DayOfWeek),
		c.StartTime,
		c.EndTime,
		c.Semester,
		c.CreditHours,
		c.Color,
		boolToInt(c.IsSynced),
		int64(c.LastModified),
	}
}

func (db *DB) queryCourses(ctx context.Context, clause string, args ...any) ([]*schema.Course, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer rows.Close()

	courses := []*schema.Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating courses: %w", err)
	}
	return courses, nil
}

func scanCourse(s scanner) (*schema.Course, error) {
	var c schema.Course
	var days string
	var synced int
	var modified int64

	err := s.Scan(
		&c.ID,
		&c.UserID,
		&c.Name,
		&c.Code,
		&c.InstructorName,
		&c.InstructorEmail,
		&c.Room,
		&days,
		&c.StartTime,
		&c.EndTime,
		&c.Semester,
		&c.CreditHours,
		&c.Color,
		&synced,
		&modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan course: %w", err)
	}

	if c.DayOfWeek, err = schema.SplitDays(days); err != nil {
		return nil, fmt.Errorf("course %s: %w", c.ID, err)
	}
	c.IsSynced = synced != 0
	c.LastModified = schema.Millis(modified)
	return &c, nil
}
