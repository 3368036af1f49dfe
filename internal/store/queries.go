package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/studysync/studysync/internal/schema"
)

// Read-only queries for dashboards and the CLI. None of them touch sync
// metadata.

// CountTasks returns the number of tasks owned by userID.
func (db *DB) CountTasks(ctx context.Context, userID string) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM tasks WHERE user_id = ?`, userID)
}

// CountCourses returns the number of courses owned by userID.
func (db *DB) CountCourses(ctx context.Context, userID string) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM courses WHERE user_id = ?`, userID)
}

// CountResources returns the number of resources owned by userID.
func (db *DB) CountResources(ctx context.Context, userID string) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM resources WHERE user_id = ?`, userID)
}

// CountUpcomingTasks counts open tasks due after now.
func (db *DB) CountUpcomingTasks(ctx context.Context, userID string, now schema.Millis) (int, error) {
	return db.count(ctx,
		`SELECT COUNT(*) FROM tasks WHERE user_id = ? AND status != ? AND due_date > ?`,
		userID, int(schema.StatusCompleted), int64(now))
}

// UpcomingTasks returns up to limit open tasks due after now, soonest first.
func (db *DB) UpcomingTasks(ctx context.Context, userID string, now schema.Millis, limit int) ([]*schema.Task, error) {
	clause := `WHERE user_id = ? AND status != ? AND due_date > ? ORDER BY due_date ASC`
	args := []any{userID, int(schema.StatusCompleted), int64(now)}
	if limit > 0 {
		clause += ` LIMIT ?`
		args = append(args, limit)
	}
	return db.queryTasks(ctx, clause, args...)
}

// RecentResources returns up to limit resources, most recently added first.
func (db *DB) RecentResources(ctx context.Context, userID string, limit int) ([]*schema.Resource, error) {
	clause := `WHERE user_id = ? ORDER BY date_added DESC`
	args := []any{userID}
	if limit > 0 {
		clause += ` LIMIT ?`
		args = append(args, limit)
	}
	return db.queryResources(ctx, clause, args...)
}

// SearchTasks matches q against title, description and course name.
func (db *DB) SearchTasks(ctx context.Context, userID, q string) ([]*schema.Task, error) {
	p := likePattern(q)
	return db.queryTasks(ctx, `
		WHERE user_id = ?
		  AND (title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\' OR course_name LIKE ? ESCAPE '\')
		ORDER BY due_date IS NULL, due_date ASC`,
		userID, p, p, p)
}

// SearchCourses matches q against name, code and instructor name.
func (db *DB) SearchCourses(ctx context.Context, userID, q string) ([]*schema.Course, error) {
	p := likePattern(q)
	return db.queryCourses(ctx, `
		WHERE user_id = ?
		  AND (name LIKE ? ESCAPE '\' OR code LIKE ? ESCAPE '\' OR instructor_name LIKE ? ESCAPE '\')
		ORDER BY name ASC`,
		userID, p, p, p)
}

// SearchResources matches q against title, description, course name and tags.
func (db *DB) SearchResources(ctx context.Context, userID, q string) ([]*schema.Resource, error) {
	p := likePattern(q)
	return db.queryResources(ctx, `
		WHERE user_id = ?
		  AND (title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'
		       OR course_name LIKE ? ESCAPE '\' OR tags LIKE ? ESCAPE '\')
		ORDER BY date_added DESC`,
		userID, p, p, p, p)
}

// KindStats holds row totals for one kind.
type KindStats struct {
	Total    int `json:"total"`
	Unsynced int `json:"unsynced"`
}

// Stats summarises the local replica.
type Stats struct {
	Users int                       `json:"users"`
	Kinds map[schema.Kind]KindStats `json:"kinds"`
}

// PendingTotal returns the number of rows waiting to be pushed.
func (s *Stats) PendingTotal() int {
	n := 0
	for _, k := range s.Kinds {
		n += k.Unsynced
	}
	return n
}

// GetStats returns per-kind totals and unsynced counts.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Kinds: make(map[schema.Kind]KindStats, len(schema.SyncedKinds))}

	users, err := db.count(ctx, `SELECT COUNT(*) FROM users`)
	if err != nil {
		return nil, err
	}
	stats.Users = users

	for _, kind := range schema.SyncedKinds {
		t, err := tableFor(kind)
		if err != nil {
			return nil, err
		}
		var ks KindStats
		err = db.conn.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_synced = 0 THEN 1 ELSE 0 END), 0) FROM `+t.name,
		).Scan(&ks.Total, &ks.Unsynced)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t.name, err)
		}
		stats.Kinds[kind] = ks
	}
	return stats, nil
}

func (db *DB) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(q)) + "%"
}
