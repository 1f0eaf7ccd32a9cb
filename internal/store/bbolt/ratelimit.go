package bbolt

import (
	"context"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/koltyakov/arca-edge/internal/domain"
)

// RateLimitStore keeps fixed-window counters in the rate_limits bucket.
// bbolt serializes writers, so Update is atomic per key.
type RateLimitStore struct {
	db *bbolt.DB
}

// RateLimits returns the rate limit view of the store.
func (s *Store) RateLimits() *RateLimitStore {
	return &RateLimitStore{db: s.db}
}

type rateLimitRecord struct {
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

func (r *RateLimitStore) Update(_ context.Context, key string, fn func(domain.RateLimitEntry, bool) domain.RateLimitEntry) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rateLimitsBucket)
		cur := domain.RateLimitEntry{Key: key}
		data := b.Get([]byte(key))
		if data != nil {
			var rec rateLimitRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			cur.Count, cur.WindowResetAt = rec.Count, rec.WindowResetAt
		}
		next := fn(cur, data != nil)
		out, err := json.Marshal(rateLimitRecord{Count: next.Count, WindowResetAt: next.WindowResetAt})
		if err != nil {
			return err
		}
		return b.Put([]byte(key), out)
	})
}

func (r *RateLimitStore) Delete(_ context.Context, key string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(rateLimitsBucket).Delete([]byte(key))
	})
}

func (r *RateLimitStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rateLimitsBucket)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec rateLimitRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.WindowResetAt.Before(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}
