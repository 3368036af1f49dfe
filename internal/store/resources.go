package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/studysync/studysync/internal/schema"
)

const resourceColumns = `id, user_id, title, description, course_id, course_name, type,
	file_path, tags, date_added, last_modified, thumbnail_path, is_synced`

// UpsertResource inserts or replaces a resource by id. Tag order is kept.
func (db *DB) UpsertResource(ctx context.Context, r *schema.Resource) error {
	query := `
	INSERT INTO resources (` + resourceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		title = excluded.title,
		description = excluded.description,
		course_id = excluded.course_id,
		course_name = excluded.course_name,
		type = excluded.type,
		file_path = excluded.file_path,
		tags = excluded.tags,
		date_added = excluded.date_added,
		last_modified = excluded.last_modified,
		thumbnail_path = excluded.thumbnail_path,
		is_synced = excluded.is_synced
	`
	if _, err := db.conn.ExecContext(ctx, query, resourceArgs(r)...); err != nil {
		return fmt.Errorf("failed to upsert resource %s: %w", r.ID, err)
	}
	return nil
}

// GetResource returns the resource with id, or ErrNotFound.
func (db *DB) GetResource(ctx context.Context, id string) (*schema.Resource, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListResources returns a user's resources, most recently added first.
func (db *DB) ListResources(ctx context.Context, userID string) ([]*schema.Resource, error) {
	return db.queryResources(ctx, `WHERE user_id = ? ORDER BY date_added DESC`, userID)
}

// ListResourcesForCourse returns the resources attached to a course.
func (db *DB) ListResourcesForCourse(ctx context.Context, courseID string) ([]*schema.Resource, error) {
	return db.queryResources(ctx, `WHERE course_id = ? ORDER BY date_added DESC`, courseID)
}

// UpdateResource overwrites an existing resource and returns the number of
// rows changed.
func (db *DB) UpdateResource(ctx context.Context, r *schema.Resource) (int64, error) {
	query := `
	UPDATE resources SET
		user_id = ?, title = ?, description = ?, course_id = ?, course_name = ?,
		type = ?, file_path = ?, tags = ?, date_added = ?, last_modified = ?,
		thumbnail_path = ?, is_synced = ?
	WHERE id = ?
	`
	args := append(resourceArgs(r)[1:], r.ID)
	res, err := db.conn.ExecContext(ctx, query, args...)
	return affected(res, err, "update resource "+r.ID)
}

// DeleteResource removes a resource and returns the number of rows removed.
func (db *DB) DeleteResource(ctx context.Context, id string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	return affected(res, err, "delete resource "+id)
}

func resourceArgs(r *schema.Resource) []any {
	return []any{
		r.ID,
		r.UserID,
		r.Title,
		r.Description,
		r.CourseID,
		r.CourseName,
		int(r.Type),
		r.FilePath,
		schema.JoinTags(r.Tags),
		int64(r.DateAdded),
		int64(r.LastModified),
		r.ThumbnailPath,
		boolToInt(r.IsSynced),
	}
}

func (db *DB) queryResources(ctx context.Context, clause string, args ...any) ([]*schema.Resource, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	resources := []*schema.Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}
	return resources, nil
}

func scanResource(s scanner) (*schema.Resource, error) {
	var r schema.Resource
	var typ, synced int
	var tags string
	var added, modified int64

	err := s.Scan(
		&r.ID,
		&r.UserID,
		&r.Title,
		&r.Description,
		&r.CourseID,
		&r.CourseName,
		&typ,
		&r.FilePath,
		&tags,
		&added,
		&modified,
		&r.ThumbnailPath,
		&synced,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan resource: %w", err)
	}

	r.Type = schema.ResourceType(typ)
	r.Tags = schema.SplitTags(tags)
	r.DateAdded = schema.Millis(added)
	r.LastModified = schema.Millis(modified)
	r.IsSynced = synced != 0
	return &r, nil
}
