package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/koltyakov/arca-edge/internal/domain"
)

// RateLimitStore keeps fixed-window counters in the rate_limits table so
// every edge process sharing the database file sees the same budget.
type RateLimitStore struct {
	db *sql.DB
}

// RateLimits returns the rate limit view of the store.
func (s *Store) RateLimits() *RateLimitStore {
	return &RateLimitStore{db: s.db}
}

// Update runs fn inside an immediate transaction, so concurrent updates of the
// same key serialize on the database write lock.
func (r *RateLimitStore) Update(ctx context.Context, key string, fn func(domain.RateLimitEntry, bool) domain.RateLimitEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	cur := domain.RateLimitEntry{Key: key}
	var resetUnixNano int64
	err = tx.QueryRowContext(ctx, `SELECT count, window_reset_at FROM rate_limits WHERE key = ?`, key).
		Scan(&cur.Count, &resetUnixNano)
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if found {
		cur.WindowResetAt = time.Unix(0, resetUnixNano)
	}

	next := fn(cur, found)
	if _, err := tx.ExecContext(ctx, `
INSERT INTO rate_limits(key, count, window_reset_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	count = excluded.count,
	window_reset_at = excluded.window_reset_at`,
		key, next.Count, next.WindowResetAt.UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *RateLimitStore) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE key = ?`, key)
	return err
}

func (r *RateLimitStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE window_reset_at < ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
