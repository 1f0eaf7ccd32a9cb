// Package sqlite implements the edge data store backed by a SQLite database.
// It holds customer mappings, customer credentials, and shared rate limit
// counters.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database connection for all edge persistence
// operations.
type Store struct {
	db *sql.DB

	getCustomerStmt   *sql.Stmt
	getCredentialStmt *sql.Stmt
}

const defaultMaxOpenConns = 10
const defaultMaxIdleConns = 10

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode for improved concurrent read performance.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions creates or opens the SQLite database at path with tunable
// connection pool settings, runs migrations, and enables WAL mode.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Per-connection PRAGMAs go in the DSN so every pooled connection gets
	// them. Transactions take the write lock up front so read-modify-write
	// counters never fail with a lock upgrade.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	// journal_mode is persistent in the database file; set it once here.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite setup (journal_mode): %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepare(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases prepared statements and closes the database.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.getCustomerStmt, s.getCredentialStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates all required tables and indexes if they do not already exist.
// Timestamps are stored as unix nanoseconds.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS customers (
	username TEXT PRIMARY KEY,
	backend_url TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	assigned_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS customer_credentials (
	username TEXT PRIMARY KEY REFERENCES customers(username) ON DELETE CASCADE,
	password_hash TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS rate_limits (
	key TEXT PRIMARY KEY,
	count INTEGER NOT NULL,
	window_reset_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_limits_reset ON rate_limits(window_reset_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) prepare(ctx context.Context) error {
	var err error
	s.getCustomerStmt, err = s.db.PrepareContext(ctx, `
SELECT username, backend_url, display_name, assigned_at, updated_at, version
FROM customers
WHERE username = ?`)
	if err != nil {
		return fmt.Errorf("prepare get customer: %w", err)
	}
	s.getCredentialStmt, err = s.db.PrepareContext(ctx, `
SELECT username, password_hash, updated_at
FROM customer_credentials
WHERE username = ?`)
	if err != nil {
		return fmt.Errorf("prepare get credential: %w", err)
	}
	return nil
}
