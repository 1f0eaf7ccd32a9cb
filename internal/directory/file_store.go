package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/koltyakov/arca-edge/internal/domain"
)

// Snapshot is the on-disk document of a [FileStore].
type Snapshot struct {
	Customers map[string]domain.CustomerMapping `json:"customers"`
}

// FileStore keeps the whole directory in one JSON file. Every write loads
// the current snapshot, applies the change and atomically replaces the
// file, so it is only suitable for small directories edited by one process.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by the JSON file at path. The file is
// created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot. A missing or empty file is an empty directory.
func (s *FileStore) Load() (Snapshot, error) {
	snap := Snapshot{Customers: map[string]domain.CustomerMapping{}}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read directory file: %w", err)
	}
	if len(raw) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode directory file: %w", err)
	}
	if snap.Customers == nil {
		snap.Customers = map[string]domain.CustomerMapping{}
	}
	return snap, nil
}

// Save writes snap to a temp file in the same directory and renames it over
// the previous snapshot.
func (s *FileStore) Save(snap Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory file dir: %w", err)
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".directory-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // no-op after a successful rename

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *FileStore) GetCustomer(_ context.Context, username string) (domain.CustomerMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.Load()
	if err != nil {
		return domain.CustomerMapping{}, err
	}
	m, ok := snap.Customers[username]
	if !ok {
		return domain.CustomerMapping{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *FileStore) PutCustomer(_ context.Context, m domain.CustomerMapping, expectedVersion int64) (domain.CustomerMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.Load()
	if err != nil {
		return domain.CustomerMapping{}, err
	}

	now := time.Now().UTC()
	prev, exists := snap.Customers[m.Username]
	if expectedVersion > 0 && (!exists || prev.Version != expectedVersion) {
		return domain.CustomerMapping{}, domain.ErrVersionConflict
	}
	if exists {
		m.AssignedAt = prev.AssignedAt
		m.Version = prev.Version + 1
	} else {
		if m.AssignedAt.IsZero() {
			m.AssignedAt = now
		}
		m.Version = 1
	}
	m.UpdatedAt = now
	snap.Customers[m.Username] = m

	if err := s.Save(snap); err != nil {
		return domain.CustomerMapping{}, err
	}
	return m, nil
}

func (s *FileStore) DeleteCustomer(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.Load()
	if err != nil {
		return err
	}
	if _, ok := snap.Customers[username]; !ok {
		return domain.ErrNotFound
	}
	delete(snap.Customers, username)
	return s.Save(snap)
}

func (s *FileStore) ListCustomers(_ context.Context) ([]domain.CustomerMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.CustomerMapping, 0, len(snap.Customers))
	for _, m := range snap.Customers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
