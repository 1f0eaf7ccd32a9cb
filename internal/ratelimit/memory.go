package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/koltyakov/arca-edge/internal/domain"
)

// memoryShards controls how many independent shards the memory store uses.
// Each shard has its own mutex so concurrent checks on distinct keys rarely
// contend.
const memoryShards = 16

// MemoryStore is an in-process [Store]. Keys are spread over shards via FNV
// hashing. It is not shared between processes and is lost on restart.
type MemoryStore struct {
	shards [memoryShards]memoryShard
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]domain.RateLimitEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]domain.RateLimitEntry)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	return &s.shards[shardIndex(key)]
}

func shardIndex(key string) int {
	const (
		fnvOffset32 = uint32(2166136261)
		fnvPrime32  = uint32(16777619)
	)
	h := fnvOffset32
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= fnvPrime32
	}
	return int(h % uint32(memoryShards))
}

func (s *MemoryStore) Update(_ context.Context, key string, fn func(domain.RateLimitEntry, bool) domain.RateLimitEntry) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.entries[key]
	sh.entries[key] = fn(cur, ok)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
	return nil
}

// Sweep walks every shard. It runs from the janitor so the hot Update path
// never iterates maps.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.entries {
			if now.After(e.WindowResetAt) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
