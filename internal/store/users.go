package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/studysync/studysync/internal/schema"
)

// UpsertUser inserts or replaces a user profile.
func (db *DB) UpsertUser(ctx context.Context, u *schema.User) error {
	query := `
	INSERT INTO users (id, name, email, university, current_semester)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		email = excluded.email,
		university = excluded.university,
		current_semester = excluded.current_semester
	`
	_, err := db.conn.ExecContext(ctx, query, u.ID, u.Name, u.Email, u.University, u.CurrentSemester)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser returns the user with id, or ErrNotFound.
func (db *DB) GetUser(ctx context.Context, id string) (*schema.User, error) {
	var u schema.User
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, email, university, current_semester FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.University, &u.CurrentSemester)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return &u, nil
}

// UpdateUser overwrites a user profile and returns the number of rows changed.
func (db *DB) UpdateUser(ctx context.Context, u *schema.User) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET name = ?, email = ?, university = ?, current_semester = ? WHERE id = ?`,
		u.Name, u.Email, u.University, u.CurrentSemester, u.ID)
	return affected(res, err, "update user "+u.ID)
}
