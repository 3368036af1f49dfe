package apiserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/studysync/studysync/internal/apiclient"
)

var (
	errNotFound  = errors.New("not found")
	errDuplicate = errors.New("duplicate id")
)

// Repo persists the API's resources and tasks tables. Tags are stored as a
// JSON array.
type Repo struct {
	conn *sql.DB
}

// OpenRepo opens (creating if needed) the API database at path.
func OpenRepo(path string) (*Repo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	r := &Repo{conn: conn}
	if err := r.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error {
	return r.conn.Close()
}

func (r *Repo) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		course_id TEXT NOT NULL DEFAULT '',
		course_name TEXT NOT NULL DEFAULT '',
		type INTEGER NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		date_added INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		thumbnail_path TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_resources_user ON resources(user_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		course_id TEXT NOT NULL DEFAULT '',
		course_name TEXT NOT NULL DEFAULT '',
		due_date INTEGER,
		priority INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 0,
		type INTEGER NOT NULL DEFAULT 0,
		reminder_set INTEGER NOT NULL DEFAULT 0,
		grade REAL NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
	`
	if _, err := r.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ===== resources =====

const resourceCols = `id, user_id, title, description, course_id, course_name, type,
	file_path, tags, date_added, last_updated, thumbnail_path`

func (r *Repo) CreateResource(ctx context.Context, row *apiclient.ResourceRow) error {
	tags, err := json.Marshal(row.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	_, err = r.conn.ExecContext(ctx, `INSERT INTO resources (`+resourceCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.UserID, row.Title, row.Description, row.CourseID, row.CourseName,
		row.Type, row.FilePath, string(tags), row.DateAdded, row.LastUpdated, row.ThumbnailPath)
	return classify(err, "create resource "+row.ID)
}

// UpdateResource rewrites the mutable columns. date_added is kept.
func (r *Repo) UpdateResource(ctx context.Context, row *apiclient.ResourceRow) error {
	tags, err := json.Marshal(row.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	res, err := r.conn.ExecContext(ctx, `UPDATE resources SET
		title = ?, description = ?, course_id = ?, course_name = ?, type = ?,
		file_path = ?, tags = ?, last_updated = ?, thumbnail_path = ?
		WHERE id = ?`,
		row.Title, row.Description, row.CourseID, row.CourseName, row.Type,
		row.FilePath, string(tags), row.LastUpdated, row.ThumbnailPath, row.ID)
	return requireRow(res, err, "update resource "+row.ID)
}

func (r *Repo) DeleteResource(ctx context.Context, id string) error {
	_, err := r.conn.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	return classify(err, "delete resource "+id)
}

func (r *Repo) SetResourceFilePath(ctx context.Context, id, path string) error {
	res, err := r.conn.ExecContext(ctx, `UPDATE resources SET file_path = ? WHERE id = ?`, path, id)
	return requireRow(res, err, "set file path for resource "+id)
}

func (r *Repo) GetResource(ctx context.Context, id string) (*apiclient.ResourceRow, error) {
	rows, err := r.queryResources(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNotFound
	}
	return rows[0], nil
}

func (r *Repo) ListResources(ctx context.Context, userID string) ([]*apiclient.ResourceRow, error) {
	return r.queryResources(ctx, `WHERE user_id = ? ORDER BY date_added DESC`, userID)
}

func (r *Repo) queryResources(ctx context.Context, clause string, args ...any) ([]*apiclient.ResourceRow, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT `+resourceCols+` FROM resources `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	out := []*apiclient.ResourceRow{}
	for rows.Next() {
		var row apiclient.ResourceRow
		var tags string
		if err := rows.Scan(&row.ID, &row.UserID, &row.Title, &row.Description, &row.CourseID,
			&row.CourseName, &row.Type, &row.FilePath, &tags, &row.DateAdded, &row.LastUpdated,
			&row.ThumbnailPath); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &row.Tags); err != nil || row.Tags == nil {
			row.Tags = []string{}
		}
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}
	return out, nil
}

// ===== tasks =====

const taskCols = `id, user_id, title, description, course_id, course_name, due_date,
	priority, status, type, reminder_set, grade, last_updated`

func (r *Repo) CreateTask(ctx context.Context, row *apiclient.TaskRow) error {
	_, err := r.conn.ExecContext(ctx, `INSERT INTO tasks (`+taskCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.UserID, row.Title, row.Description, row.CourseID, row.CourseName,
		nullInt(row.DueDate), row.Priority, row.Status, row.Type, boolInt(row.ReminderSet),
		row.Grade, row.LastUpdated)
	return classify(err, "create task "+row.ID)
}

func (r *Repo) UpdateTask(ctx context.Context, row *apiclient.TaskRow) error {
	res, err := r.conn.ExecContext(ctx, `UPDATE tasks SET
		title = ?, description = ?, course_id = ?, course_name = ?, due_date = ?,
		priority = ?, status = ?, type = ?, reminder_set = ?, grade = ?, last_updated = ?
		WHERE id = ?`,
		row.Title, row.Description, row.CourseID, row.CourseName, nullInt(row.DueDate),
		row.Priority, row.Status, row.Type, boolInt(row.ReminderSet), row.Grade, row.LastUpdated,
		row.ID)
	return requireRow(res, err, "update task "+row.ID)
}

func (r *Repo) DeleteTask(ctx context.Context, id string) error {
	_, err := r.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return classify(err, "delete task "+id)
}

func (r *Repo) GetTask(ctx context.Context, id string) (*apiclient.TaskRow, error) {
	rows, err := r.queryTasks(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNotFound
	}
	return rows[0], nil
}

func (r *Repo) ListTasks(ctx context.Context, userID string) ([]*apiclient.TaskRow, error) {
	return r.queryTasks(ctx, `WHERE user_id = ? ORDER BY due_date IS NULL, due_date ASC`, userID)
}

func (r *Repo) queryTasks(ctx context.Context, clause string, args ...any) ([]*apiclient.TaskRow, error) {
	rows, err := r.conn.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	out := []*apiclient.TaskRow{}
	for rows.Next() {
		var row apiclient.TaskRow
		var due sql.NullInt64
		var reminder int
		if err := rows.Scan(&row.ID, &row.UserID, &row.Title, &row.Description, &row.CourseID,
			&row.CourseName, &due, &row.Priority, &row.Status, &row.Type, &reminder, &row.Grade,
			&row.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if due.Valid {
			d := due.Int64
			row.DueDate = &d
		}
		row.ReminderSet = reminder != 0
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return out, nil
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", what, errDuplicate)
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}

func requireRow(res sql.Result, err error, what string) error {
	if err != nil {
		return classify(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, errNotFound)
	}
	return nil
}
