package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a contributor identified by an opaque token. Created lazily on
// first authenticated request.
type User struct {
	ID                 int64     `db:"id" json:"id"`
	UserID             string    `db:"user_id" json:"user_id"`
	InstanceName       string    `db:"instance_name" json:"instance_name"`
	ContributionsCount int       `db:"contributions_count" json:"contributions_count"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	LastActive         time.Time `db:"last_active" json:"last_active"`
}

// GetUser returns the user with the given token, or nil if absent.
func (q Queries) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := q.q.GetContext(ctx, &u, "SELECT * FROM users WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &u, nil
}

// EnsureUser registers the user on first contact and refreshes last_active on
// every subsequent one.
func (q Queries) EnsureUser(ctx context.Context, userID, instanceName string) error {
	now := time.Now().UTC()
	if instanceName == "" && len(userID) >= 8 {
		instanceName = "priceradar-" + userID[len(userID)-8:]
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO users (user_id, instance_name, contributions_count, created_at, last_active)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_active = excluded.last_active
	`, userID, instanceName, now, now)
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return nil
}

// IncrementContributions adds n to the user's contribution counter in a
// single atomic update.
func (q Queries) IncrementContributions(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := q.q.ExecContext(ctx,
		"UPDATE users SET contributions_count = contributions_count + ? WHERE user_id = ?", n, userID)
	if err != nil {
		return fmt.Errorf("increment contributions %s: %w", userID, err)
	}
	return nil
}

// CountActiveUsers counts users active since the given instant.
func (q Queries) CountActiveUsers(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := q.q.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM users WHERE last_active >= ?", since)
	if err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return count, nil
}
