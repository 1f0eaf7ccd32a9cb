package directory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/arca-edge/internal/domain"
)

const testAdminKey = "test-admin-key-0123456789abcdef"

// memStore is a map-backed Store and CredentialStore that counts reads.
type memStore struct {
	mu        sync.Mutex
	customers map[string]domain.CustomerMapping
	creds     map[string]domain.CustomerCredential
	gets      atomic.Int64
	failGets  error
}

func newMemStore() *memStore {
	return &memStore{
		customers: map[string]domain.CustomerMapping{},
		creds:     map[string]domain.CustomerCredential{},
	}
}

func (s *memStore) GetCustomer(_ context.Context, username string) (domain.CustomerMapping, error) {
	s.gets.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGets != nil {
		return domain.CustomerMapping{}, s.failGets
	}
	m, ok := s.customers[username]
	if !ok {
		return domain.CustomerMapping{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memStore) PutCustomer(_ context.Context, m domain.CustomerMapping, expectedVersion int64) (domain.CustomerMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.customers[m.Username]
	if expectedVersion > 0 && (!ok || prev.Version != expectedVersion) {
		return domain.CustomerMapping{}, domain.ErrVersionConflict
	}
	m.Version = prev.Version + 1
	s.customers[m.Username] = m
	return m, nil
}

func (s *memStore) DeleteCustomer(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[username]; !ok {
		return domain.ErrNotFound
	}
	delete(s.customers, username)
	delete(s.creds, username)
	return nil
}

func (s *memStore) ListCustomers(_ context.Context) ([]domain.CustomerMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CustomerMapping
	for _, m := range s.customers {
		out = append(out, m)
	}
	return out, nil
}

func (s *memStore) GetCredential(_ context.Context, username string) (domain.CustomerCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[username]
	if !ok {
		return domain.CustomerCredential{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *memStore) SetCredential(_ context.Context, c domain.CustomerCredential, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[c.Username]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := s.creds[c.Username]; ok && !replace {
		return domain.ErrCredentialExists
	}
	s.creds[c.Username] = c
	return nil
}

func newTestDirectory(t *testing.T, opts ...Option) (*Directory, *memStore) {
	t.Helper()
	store := newMemStore()
	d, err := New(store, append([]Option{WithAdminKey(testAdminKey)}, opts...)...)
	require.NoError(t, err)
	return d, store
}

func TestResolveNormalizesUsername(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _ := newTestDirectory(t)
	_, err := d.Upsert(ctx, testAdminKey, domain.CustomerMapping{Username: "Alice", BackendURL: "http://10.0.0.5:3000/"}, 0)
	require.NoError(t, err)

	for _, name := range []string{"alice", "ALICE", " Alice "} {
		m, err := d.Resolve(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, "alice", m.Username)
		assert.Equal(t, "http://10.0.0.5:3000", m.BackendURL)
	}

	_, err = d.Resolve(ctx, "bob")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = d.Resolve(ctx, "not_a_label")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = d.Resolve(ctx, "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveCachesHitsAndMisses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, store := newTestDirectory(t, WithCacheTTL(time.Minute))
	_, err := d.Upsert(ctx, testAdminKey, domain.CustomerMapping{Username: "alice", BackendURL: "http://a"}, 0)
	require.NoError(t, err)

	for range 3 {
		_, err := d.Resolve(ctx, "alice")
		require.NoError(t, err)
		_, err = d.Resolve(ctx, "ghost")
		require.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.EqualValues(t, 2, store.gets.Load())

	// A local write invalidates the cached miss.
	_, err = d.Upsert(ctx, testAdminKey, domain.CustomerMapping{Username: "ghost", BackendURL: "http://g"}, 0)
	require.NoError(t, err)
	m, err := d.Resolve(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "http://g", m.BackendURL)

	require.NoError(t, d.Remove(ctx, testAdminKey, "alice"))
	_, err = d.Resolve(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveWithoutCacheHitsStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, store := newTestDirectory(t, WithCacheTTL(0))
	for range 3 {
		_, _ = d.Resolve(ctx, "alice")
	}
	assert.EqualValues(t, 3, store.gets.Load())
}

func TestResolveStoreFailureIsNotNotFound(t *testing.T) {
	t.Parallel()

	d, store := newTestDirectory(t)
	store.failGets = errors.New("disk on fire")

	_, err := d.Resolve(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	var ce *domain.CustomerError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "resolve", ce.Op)
}

func TestAdminOperationsRequireKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := domain.CustomerMapping{Username: "alice", BackendURL: "http://a"}

	t.Run("wrong key", func(t *testing.T) {
		t.Parallel()
		d, _ := newTestDirectory(t)
		_, err := d.Upsert(ctx, "wrong", m, 0)
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		require.ErrorIs(t, d.Remove(ctx, "", "alice"), domain.ErrUnauthorized)
		_, err = d.List(ctx, testAdminKey+"x")
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		_, err = d.Get(ctx, "nope", "alice")
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		require.ErrorIs(t, d.SetPassword(ctx, "nope", "alice", "password1", false), domain.ErrUnauthorized)
	})

	t.Run("no configured key fails closed", func(t *testing.T) {
		t.Parallel()
		d, err := New(newMemStore())
		require.NoError(t, err)
		_, err = d.Upsert(ctx, "", m, 0)
		require.ErrorIs(t, err, domain.ErrConfig)
		_, err = d.List(ctx, "anything")
		require.ErrorIs(t, err, domain.ErrConfig)
	})
}

func TestUpsertValidatesAndFences(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _ := newTestDirectory(t)

	_, err := d.Upsert(ctx, testAdminKey, domain.CustomerMapping{Username: "-bad", BackendURL: "http://a"}, 0)
	require.ErrorIs(t, err, domain.ErrInvalidUsername)
	_, err = d.Upsert(ctx, testAdminKey, domain.CustomerMapping{Username: "alice", BackendURL: "ftp://a"}, 0)
	require.ErrorIs(t, err, domain.ErrInvalidBackend)

	m, err := d.Upsert(ctx, testAdminKey, domain.CustomerMapping{Username: "alice", BackendURL: "http://a"}, 0)
	require.NoError(t, err)
	_, err = d.Upsert(ctx, testAdminKey, domain.CustomerMapping{Username: "alice", BackendURL: "http://b"}, m.Version+1)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	_, err = d.Upsert(ctx, testAdminKey, domain.CustomerMapping{Username: "alice", BackendURL: "http://b"}, m.Version)
	require.NoError(t, err)
}

func TestListAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _ := newTestDirectory(t)

	list, err := d.List(ctx, testAdminKey)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := d.Upsert(ctx, testAdminKey, domain.CustomerMapping{Username: name, BackendURL: "http://" + name}, 0)
		require.NoError(t, err)
	}
	list, err = d.List(ctx, testAdminKey)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	m, err := d.Get(ctx, testAdminKey, "BOB")
	require.NoError(t, err)
	assert.Equal(t, "http://bob", m.BackendURL)

	_, err = d.Get(ctx, testAdminKey, "dave")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, d.Remove(ctx, testAdminKey, "dave"), domain.ErrNotFound)
}

func TestPasswords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _ := newTestDirectory(t)
	require.True(t, d.HasCredentials())

	require.ErrorIs(t, d.SetPassword(ctx, testAdminKey, "alice", "password1", false), domain.ErrNotFound)

	_, err := d.Upsert(ctx, testAdminKey, domain.CustomerMapping{Username: "alice", BackendURL: "http://a"}, 0)
	require.NoError(t, err)

	require.Error(t, d.SetPassword(ctx, testAdminKey, "alice", "short", false))
	require.NoError(t, d.SetPassword(ctx, testAdminKey, "Alice", "correct horse", false))
	require.ErrorIs(t, d.SetPassword(ctx, testAdminKey, "alice", "another one", false), domain.ErrCredentialExists)

	ok, err := d.VerifyPassword(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.VerifyPassword(ctx, "alice", "wrong horse")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.VerifyPassword(ctx, "nobody", "correct horse")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.SetPassword(ctx, testAdminKey, "alice", "another one", true))
	ok, err = d.VerifyPassword(ctx, "alice", "another one")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPasswordsWithoutCredentialStore(t *testing.T) {
	t.Parallel()

	d, err := New(NewFileStore(t.TempDir()+"/dir.json"), WithAdminKey(testAdminKey))
	require.NoError(t, err)
	assert.False(t, d.HasCredentials())

	_, err = d.VerifyPassword(context.Background(), "alice", "whatever1")
	require.ErrorIs(t, err, domain.ErrConfig)
	require.ErrorIs(t, d.SetPassword(context.Background(), testAdminKey, "alice", "whatever1", false), domain.ErrConfig)
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.ErrorIs(t, err, domain.ErrConfig)
	_, err = New(newMemStore(), WithCacheTTL(-time.Second))
	require.ErrorIs(t, err, domain.ErrConfig)
}

type pingStore struct {
	*memStore
	err error
}

func (s *pingStore) Ping(context.Context) error { return s.err }

func TestPing(t *testing.T) {
	t.Parallel()

	plain, err := New(newMemStore())
	require.NoError(t, err)
	require.NoError(t, plain.Ping(context.Background()), "stores without Ping count as reachable")

	down := errors.New("disk gone")
	d, err := New(&pingStore{memStore: newMemStore(), err: down})
	require.NoError(t, err)
	require.ErrorIs(t, d.Ping(context.Background()), down)
}
