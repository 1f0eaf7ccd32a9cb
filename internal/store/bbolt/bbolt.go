// Package bbolt provides a single-file customer directory and rate limit
// store on top of go.etcd.io/bbolt. It suits single-instance deployments
// that do not want a SQL database.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/koltyakov/arca-edge/internal/domain"
)

var (
	customersBucket   = []byte("customers")
	credentialsBucket = []byte("credentials")
	rateLimitsBucket  = []byte("rate_limits")
)

// Store keeps customer mappings, credentials and rate limit counters in one
// bbolt file. Values are JSON encoded.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the bbolt file at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create bbolt dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{customersBucket, credentialsBucket, rateLimitsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bbolt buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database file is still open.
func (s *Store) Ping(_ context.Context) error {
	return s.db.View(func(*bbolt.Tx) error { return nil })
}

// GetCustomer returns the mapping for username or [domain.ErrNotFound].
func (s *Store) GetCustomer(_ context.Context, username string) (domain.CustomerMapping, error) {
	var m domain.CustomerMapping
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(customersBucket).Get([]byte(username))
		if data == nil {
			return domain.ErrNotFound
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return domain.CustomerMapping{}, err
	}
	return m, nil
}

// PutCustomer writes m. With expectedVersion > 0 the stored version must
// match; otherwise the last writer wins.
func (s *Store) PutCustomer(_ context.Context, m domain.CustomerMapping, expectedVersion int64) (domain.CustomerMapping, error) {
	now := time.Now().UTC()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(customersBucket)
		key := []byte(m.Username)

		var existing domain.CustomerMapping
		data := b.Get(key)
		if data != nil {
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
		}
		if expectedVersion > 0 && (data == nil || existing.Version != expectedVersion) {
			return domain.ErrVersionConflict
		}

		if data != nil {
			m.AssignedAt = existing.AssignedAt
			m.Version = existing.Version + 1
		} else {
			if m.AssignedAt.IsZero() {
				m.AssignedAt = now
			}
			m.Version = 1
		}
		m.UpdatedAt = now

		out, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
	if err != nil {
		return domain.CustomerMapping{}, err
	}
	return m, nil
}

// DeleteCustomer removes username and its credential.
func (s *Store) DeleteCustomer(_ context.Context, username string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := []byte(username)
		b := tx.Bucket(customersBucket)
		if b.Get(key) == nil {
			return domain.ErrNotFound
		}
		if err := b.Delete(key); err != nil {
			return err
		}
		return tx.Bucket(credentialsBucket).Delete(key)
	})
}

// ListCustomers returns every mapping in key (username) order.
func (s *Store) ListCustomers(_ context.Context) ([]domain.CustomerMapping, error) {
	var out []domain.CustomerMapping
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(customersBucket).ForEach(func(_, v []byte) error {
			var m domain.CustomerMapping
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

type credentialRecord struct {
	PasswordHash string    `json:"password_hash"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GetCredential returns the stored password hash for username.
func (s *Store) GetCredential(_ context.Context, username string) (domain.CustomerCredential, error) {
	var rec credentialRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(credentialsBucket).Get([]byte(username))
		if data == nil {
			return domain.ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return domain.CustomerCredential{}, err
	}
	return domain.CustomerCredential{Username: username, PasswordHash: rec.PasswordHash, UpdatedAt: rec.UpdatedAt}, nil
}

// SetCredential stores c. The customer must exist. Without replace an
// existing credential yields [domain.ErrCredentialExists].
func (s *Store) SetCredential(_ context.Context, c domain.CustomerCredential, replace bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := []byte(c.Username)
		if tx.Bucket(customersBucket).Get(key) == nil {
			return domain.ErrNotFound
		}
		b := tx.Bucket(credentialsBucket)
		if !replace && b.Get(key) != nil {
			return domain.ErrCredentialExists
		}
		data, err := json.Marshal(credentialRecord{PasswordHash: c.PasswordHash, UpdatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}
