package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/arca-edge/internal/domain"
)

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s := NewFileStore(filepath.Join(t.TempDir(), "nested", "directory.json"))
	snap, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Customers)

	list, err := s.ListCustomers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.GetCustomer(context.Background(), "alice")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFileStoreEmptyFileIsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	snap, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Customers)
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "directory.json")

	s := NewFileStore(path)
	m, err := s.PutCustomer(ctx, domain.CustomerMapping{Username: "alice", BackendURL: "http://a"}, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Version)
	_, err = s.PutCustomer(ctx, domain.CustomerMapping{Username: "bob", BackendURL: "http://b"}, 0)
	require.NoError(t, err)

	reopened := NewFileStore(path)
	got, err := reopened.GetCustomer(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "http://a", got.BackendURL)
	assert.True(t, got.AssignedAt.Equal(m.AssignedAt))

	list, err := reopened.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Username)

	_, err = reopened.PutCustomer(ctx, domain.CustomerMapping{Username: "alice", BackendURL: "http://a2"}, 5)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	m2, err := reopened.PutCustomer(ctx, domain.CustomerMapping{Username: "alice", BackendURL: "http://a2"}, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, m2.Version)

	require.NoError(t, reopened.DeleteCustomer(ctx, "bob"))
	require.ErrorIs(t, reopened.DeleteCustomer(ctx, "bob"), domain.ErrNotFound)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are cleaned up after rename")
}

func TestFileStoreCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewFileStore(path).GetCustomer(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
