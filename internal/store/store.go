// Package store is the local replica: an embedded SQLite database holding
// users, courses, tasks and resources.
//
// The local store is the source of truth while offline. Every write lands
// here first and synchronously; the reconciliation engine then reads the
// outbound queue (rows with is_synced = 0) and pushes them to the remote
// replicas.
//
// Storage layout:
//   - Database file: ~/.studysync/studysync.db (configurable)
//   - WAL mode: concurrent readers during writes
//   - Tables: users, courses, tasks, resources keyed by id
//   - Lists (course weekdays, resource tags) are comma-joined TEXT
//   - Booleans are 0/1 INTEGER, timestamps are epoch-millisecond INTEGER
//
// Storage errors are returned wrapped; callers treat them as fatal for the
// operation that triggered them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/studysync/studysync/internal/logging"
	"github.com/studysync/studysync/internal/schema"
)

// ErrNotFound is returned by Get lookups when no row has the requested id.
var ErrNotFound = errors.New("record not found")

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
	log  *logging.Logger
}

// Open creates a database connection at the specified path.
//
// The database is opened with WAL for concurrent reads and a 5 second busy
// timeout. The parent directory is created if needed. The caller MUST call
// Close() when done.
//
// Example:
//
//	db, err := store.Open("~/.studysync/studysync.db", log)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string, log *logging.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		log:  logging.OrNop(log),
	}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.log.Warn("failed to checkpoint WAL", "error", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables and indexes if they don't exist. It is
// idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		university TEXT NOT NULL DEFAULT '',
		current_semester TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		instructor_name TEXT NOT NULL DEFAULT '',
		instructor_email TEXT NOT NULL DEFAULT '',
		room TEXT NOT NULL DEFAULT '',
		day_of_week TEXT NOT NULL DEFAULT '',  -- comma-joined weekdays, 0=Sunday
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		semester TEXT NOT NULL DEFAULT '',
		credit_hours INTEGER NOT NULL DEFAULT 0,
		color INTEGER NOT NULL DEFAULT 0,
		is_synced INTEGER NOT NULL DEFAULT 0,
		last_modified INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		course_id TEXT NOT NULL DEFAULT '',
		course_name TEXT NOT NULL DEFAULT '',
		due_date INTEGER,
		priority INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 0,
		type INTEGER NOT NULL DEFAULT 0,
		reminder_set INTEGER NOT NULL DEFAULT 0,
		grade REAL NOT NULL DEFAULT 0,
		is_synced INTEGER NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		course_id TEXT NOT NULL DEFAULT '',
		course_name TEXT NOT NULL DEFAULT '',
		type INTEGER NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',  -- comma-joined, order preserved
		date_added INTEGER NOT NULL,
		last_modified INTEGER NOT NULL,
		thumbnail_path TEXT NOT NULL DEFAULT '',
		is_synced INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_courses_user ON courses(user_id);
	CREATE INDEX IF NOT EXISTS idx_courses_synced ON courses(is_synced);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_synced ON tasks(is_synced);
	CREATE INDEX IF NOT EXISTS idx_tasks_course ON tasks(course_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(user_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_resources_user ON resources(user_id);
	CREATE INDEX IF NOT EXISTS idx_resources_synced ON resources(is_synced);
	CREATE INDEX IF NOT EXISTS idx_resources_course ON resources(course_id);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// ===== Generic record operations =====
//
// The reconciliation engine works on schema.Record values and dispatches
// here by kind.

type tableInfo struct {
	name        string
	modifiedCol string
}

func tableFor(kind schema.Kind) (tableInfo, error) {
	switch kind {
	case schema.KindTask:
		return tableInfo{"tasks", "last_updated"}, nil
	case schema.KindCourse:
		return tableInfo{"courses", "last_modified"}, nil
	case schema.KindResource:
		return tableInfo{"resources", "last_modified"}, nil
	default:
		return tableInfo{}, fmt.Errorf("kind %q is not a synced record kind", kind)
	}
}

// Upsert inserts or replaces rec by id.
func (db *DB) Upsert(ctx context.Context, rec schema.Record) error {
	switch r := rec.(type) {
	case *schema.Task:
		return db.UpsertTask(ctx, r)
	case *schema.Course:
		return db.UpsertCourse(ctx, r)
	case *schema.Resource:
		return db.UpsertResource(ctx, r)
	default:
		return fmt.Errorf("cannot store record of type %T", rec)
	}
}

// Get returns the record of the given kind and id, or ErrNotFound.
func (db *DB) Get(ctx context.Context, kind schema.Kind, id string) (schema.Record, error) {
	var (
		rec schema.Record
		err error
	)
	switch kind {
	case schema.KindTask:
		var t *schema.Task
		if t, err = db.GetTask(ctx, id); err == nil {
			rec = t
		}
	case schema.KindCourse:
		var c *schema.Course
		if c, err = db.GetCourse(ctx, id); err == nil {
			rec = c
		}
	case schema.KindResource:
		var r *schema.Resource
		if r, err = db.GetResource(ctx, id); err == nil {
			rec = r
		}
	default:
		return nil, fmt.Errorf("kind %q is not a synced record kind", kind)
	}
	if err != nil {
		// Never hand back a typed nil inside the interface.
		return nil, err
	}
	return rec, nil
}

// Delete removes a record and returns the number of rows removed. Deleting a
// course through Delete does NOT cascade; use DeleteCourseCascade.
func (db *DB) Delete(ctx context.Context, kind schema.Kind, id string) (int64, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	res, err := db.conn.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	return res.RowsAffected()
}

// Unsynced returns every record of kind with is_synced = 0. This is the
// outbound queue for pushes.
func (db *DB) Unsynced(ctx context.Context, kind schema.Kind) ([]schema.Record, error) {
	var out []schema.Record
	switch kind {
	case schema.KindTask:
		rows, err := db.queryTasks(ctx, `WHERE is_synced = 0 ORDER BY last_updated ASC`)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r)
		}
	case schema.KindCourse:
		rows, err := db.queryCourses(ctx, `WHERE is_synced = 0 ORDER BY last_modified ASC`)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r)
		}
	case schema.KindResource:
		rows, err := db.queryResources(ctx, `WHERE is_synced = 0 ORDER BY last_modified ASC`)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out = append(out, r)
		}
	default:
		return nil, fmt.Errorf("kind %q is not a synced record kind", kind)
	}
	return out, nil
}

// MarkSynced sets is_synced = 1 without altering any other column.
func (db *DB) MarkSynced(ctx context.Context, kind schema.Kind, id string) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, `UPDATE `+t.name+` SET is_synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark %s %s synced: %w", kind, id, err)
	}
	return nil
}

// MarkSyncedAt sets is_synced = 1 only if the row still carries the
// modification timestamp that was pushed. It reports whether the flag was
// flipped; false means a newer local edit (or a delete) happened meanwhile
// and the row must stay pending.
func (db *DB) MarkSyncedAt(ctx context.Context, kind schema.Kind, id string, modified schema.Millis) (bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE `+t.name+` SET is_synced = 1 WHERE id = ? AND `+t.modifiedCol+` = ?`,
		id, int64(modified))
	if err != nil {
		return false, fmt.Errorf("failed to mark %s %s synced: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// CascadeResult reports what DeleteCourseCascade removed.
type CascadeResult struct {
	Course      int64
	TaskIDs     []string
	ResourceIDs []string
}

// DeleteCourseCascade deletes a course together with every task and resource
// referencing it, in one transaction.
func (db *DB) DeleteCourseCascade(ctx context.Context, courseID string) (*CascadeResult, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result := &CascadeResult{}
	if result.TaskIDs, err = collectIDs(ctx, tx, `SELECT id FROM tasks WHERE course_id = ?`, courseID); err != nil {
		return nil, err
	}
	if result.ResourceIDs, err = collectIDs(ctx, tx, `SELECT id FROM resources WHERE course_id = ?`, courseID); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE course_id = ?`, courseID); err != nil {
		return nil, fmt.Errorf("failed to delete tasks for course %s: %w", courseID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE course_id = ?`, courseID); err != nil {
		return nil, fmt.Errorf("failed to delete resources for course %s: %w", courseID, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete course %s: %w", courseID, err)
	}
	if result.Course, err = res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func collectIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}
	return ids, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func affected(res sql.Result, err error, what string) (int64, error) {
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
