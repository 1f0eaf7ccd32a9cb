package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/koltyakov/arca-edge/internal/domain"
)

// GetCredential returns the stored password hash for username.
func (s *Store) GetCredential(ctx context.Context, username string) (domain.CustomerCredential, error) {
	var c domain.CustomerCredential
	var updated int64
	err := s.getCredentialStmt.QueryRowContext(ctx, username).Scan(&c.Username, &c.PasswordHash, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CustomerCredential{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CustomerCredential{}, err
	}
	c.UpdatedAt = fromUnixNano(updated)
	return c, nil
}

// SetCredential stores a password hash. Without replace an existing hash is
// kept and [domain.ErrCredentialExists] returned. The customer must exist.
func (s *Store) SetCredential(ctx context.Context, c domain.CustomerCredential, replace bool) error {
	now := time.Now().UTC()
	query := `
INSERT INTO customer_credentials(username, password_hash, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(username) DO NOTHING`
	if replace {
		query = `
INSERT INTO customer_credentials(username, password_hash, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(username) DO UPDATE SET
	password_hash = excluded.password_hash,
	updated_at = excluded.updated_at`
	}
	res, err := s.db.ExecContext(ctx, query, c.Username, c.PasswordHash, now.UnixNano())
	if isForeignKeyViolation(err) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrCredentialExists
	}
	return nil
}
