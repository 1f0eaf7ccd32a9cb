package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/koltyakov/arca-edge/internal/domain"
)

const customerColumns = `username, backend_url, display_name, assigned_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (domain.CustomerMapping, error) {
	var m domain.CustomerMapping
	var assigned, updated int64
	if err := row.Scan(&m.Username, &m.BackendURL, &m.DisplayName, &assigned, &updated, &m.Version); err != nil {
		return domain.CustomerMapping{}, err
	}
	m.AssignedAt = fromUnixNano(assigned)
	m.UpdatedAt = fromUnixNano(updated)
	return m, nil
}

// GetCustomer returns the mapping for username or [domain.ErrNotFound].
func (s *Store) GetCustomer(ctx context.Context, username string) (domain.CustomerMapping, error) {
	m, err := scanCustomer(s.getCustomerStmt.QueryRowContext(ctx, username))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CustomerMapping{}, domain.ErrNotFound
	}
	return m, err
}

// PutCustomer inserts or updates m. With expectedVersion > 0 the write only
// succeeds if the stored row has exactly that version; otherwise the last
// writer wins. The stored row is returned with its new version.
func (s *Store) PutCustomer(ctx context.Context, m domain.CustomerMapping, expectedVersion int64) (domain.CustomerMapping, error) {
	now := time.Now().UTC()
	assigned := m.AssignedAt
	if assigned.IsZero() {
		assigned = now
	}

	var row *sql.Row
	if expectedVersion > 0 {
		row = s.db.QueryRowContext(ctx, `
UPDATE customers
SET backend_url = ?, display_name = ?, updated_at = ?, version = version + 1
WHERE username = ? AND version = ?
RETURNING `+customerColumns,
			m.BackendURL, m.DisplayName, now.UnixNano(), m.Username, expectedVersion)
	} else {
		row = s.db.QueryRowContext(ctx, `
INSERT INTO customers(username, backend_url, display_name, assigned_at, updated_at, version)
VALUES(?, ?, ?, ?, ?, 1)
ON CONFLICT(username) DO UPDATE SET
	backend_url = excluded.backend_url,
	display_name = excluded.display_name,
	updated_at = excluded.updated_at,
	version = customers.version + 1
RETURNING `+customerColumns,
			m.Username, m.BackendURL, m.DisplayName, assigned.UnixNano(), now.UnixNano())
	}

	out, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CustomerMapping{}, domain.ErrVersionConflict
	}
	return out, err
}

// DeleteCustomer removes username and its credential.
func (s *Store) DeleteCustomer(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE username = ?`, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListCustomers returns every mapping ordered by username.
func (s *Store) ListCustomers(ctx context.Context) ([]domain.CustomerMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.CustomerMapping
	for rows.Next() {
		m, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
