// Package directory maps customer usernames to their backend instances and
// guards the administrative operations that change the mapping.
//
// Reads go through a short-lived in-process cache that also remembers
// misses, so a burst of requests for an unknown subdomain costs one store
// lookup per TTL. Local writes invalidate the cache immediately; writes made
// by other processes become visible once the TTL elapses.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/auth"
	"github.com/koltyakov/arca-edge/internal/domain"
	"github.com/koltyakov/arca-edge/internal/log"
	"github.com/koltyakov/arca-edge/internal/metrics"
)

// DefaultCacheTTL bounds how long a resolved (or missing) mapping is served
// from memory.
const DefaultCacheTTL = 5 * time.Second

// Store persists customer mappings. Implementations return
// [domain.ErrNotFound] for missing usernames and [domain.ErrVersionConflict]
// when expectedVersion > 0 does not match the stored row.
type Store interface {
	GetCustomer(ctx context.Context, username string) (domain.CustomerMapping, error)
	PutCustomer(ctx context.Context, m domain.CustomerMapping, expectedVersion int64) (domain.CustomerMapping, error)
	DeleteCustomer(ctx context.Context, username string) error
	ListCustomers(ctx context.Context) ([]domain.CustomerMapping, error)
}

// CredentialStore persists customer password hashes.
type CredentialStore interface {
	GetCredential(ctx context.Context, username string) (domain.CustomerCredential, error)
	SetCredential(ctx context.Context, c domain.CustomerCredential, replace bool) error
}

// Pinger is implemented by stores that hold a connection or file handle
// worth checking from the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Directory is the customer directory service.
type Directory struct {
	store    Store
	creds    CredentialStore
	adminKey string
	cache    *cache
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Option configures a [Directory].
type Option func(*Directory)

// WithAdminKey sets the privileged credential required by admin operations.
// Without it every admin operation fails with [domain.ErrConfig].
func WithAdminKey(key string) Option {
	return func(d *Directory) { d.adminKey = key }
}

// WithCredentials sets the password store. Stores that implement
// [CredentialStore] themselves are picked up automatically.
func WithCredentials(cs CredentialStore) Option {
	return func(d *Directory) { d.creds = cs }
}

// WithCacheTTL overrides [DefaultCacheTTL]. A zero TTL disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(d *Directory) { d.cache.ttl = ttl }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Directory) { d.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// New returns a directory over store.
func New(store Store, opts ...Option) (*Directory, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: directory store is required", domain.ErrConfig)
	}
	d := &Directory{
		store:  store,
		cache:  newCache(DefaultCacheTTL),
		logger: zap.NewNop(),
	}
	if cs, ok := store.(CredentialStore); ok {
		d.creds = cs
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cache.ttl < 0 {
		return nil, fmt.Errorf("%w: negative directory cache ttl", domain.ErrConfig)
	}
	return d, nil
}

// Resolve returns the mapping for username. Usernames are matched after
// normalization; anything that is not a valid DNS label is simply not found.
func (d *Directory) Resolve(ctx context.Context, username string) (domain.CustomerMapping, error) {
	name := domain.NormalizeUsername(username)
	if err := domain.ValidateUsername(name); err != nil {
		d.metrics.DirectoryLookup("invalid")
		return domain.CustomerMapping{}, domain.ErrNotFound
	}

	if m, found, ok := d.cache.get(name); ok {
		d.metrics.DirectoryLookup("cache_hit")
		if !found {
			return domain.CustomerMapping{}, domain.ErrNotFound
		}
		return m, nil
	}

	m, err := d.store.GetCustomer(ctx, name)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		d.cache.setMiss(name)
		d.metrics.DirectoryLookup("not_found")
		return domain.CustomerMapping{}, domain.ErrNotFound
	case err != nil:
		d.metrics.DirectoryLookup("error")
		return domain.CustomerMapping{}, &domain.CustomerError{Username: name, Op: "resolve", Err: err}
	}
	d.cache.set(name, m)
	d.metrics.DirectoryLookup("found")
	return m, nil
}

// Upsert creates or replaces a mapping. With expectedVersion > 0 the write
// is fenced against concurrent updates.
func (d *Directory) Upsert(ctx context.Context, credential string, m domain.CustomerMapping, expectedVersion int64) (domain.CustomerMapping, error) {
	if err := d.authorize("upsert", credential); err != nil {
		return domain.CustomerMapping{}, err
	}
	if err := m.Validate(); err != nil {
		return domain.CustomerMapping{}, &domain.CustomerError{Username: domain.SanitizeUsername(m.Username), Op: "upsert", Err: err}
	}
	out, err := d.store.PutCustomer(ctx, m, expectedVersion)
	d.cache.invalidate(m.Username)
	if err != nil {
		return domain.CustomerMapping{}, &domain.CustomerError{Username: m.Username, Op: "upsert", Err: err}
	}
	d.logger.Info("customer mapping saved",
		log.Username(out.Username),
		log.Target(out.BackendURL),
		zap.Int64("version", out.Version),
	)
	return out, nil
}

// Remove deletes a mapping and its credential.
func (d *Directory) Remove(ctx context.Context, credential, username string) error {
	if err := d.authorize("remove", credential); err != nil {
		return err
	}
	name := domain.NormalizeUsername(username)
	err := d.store.DeleteCustomer(ctx, name)
	d.cache.invalidate(name)
	if err != nil {
		return &domain.CustomerError{Username: name, Op: "remove", Err: err}
	}
	d.logger.Info("customer mapping removed", log.Username(name))
	return nil
}

// List returns every mapping. The order is whatever the store yields.
func (d *Directory) List(ctx context.Context, credential string) ([]domain.CustomerMapping, error) {
	if err := d.authorize("list", credential); err != nil {
		return nil, err
	}
	out, err := d.store.ListCustomers(ctx)
	if err != nil {
		return nil, &domain.CustomerError{Op: "list", Err: err}
	}
	if out == nil {
		out = []domain.CustomerMapping{}
	}
	return out, nil
}

// Get is the privileged single-customer read; it bypasses the cache.
func (d *Directory) Get(ctx context.Context, credential, username string) (domain.CustomerMapping, error) {
	if err := d.authorize("get", credential); err != nil {
		return domain.CustomerMapping{}, err
	}
	name := domain.NormalizeUsername(username)
	m, err := d.store.GetCustomer(ctx, name)
	if err != nil {
		return domain.CustomerMapping{}, &domain.CustomerError{Username: name, Op: "get", Err: err}
	}
	return m, nil
}

// SetPassword hashes and stores the customer's edge login password. An
// existing password is only overwritten when replace is set.
func (d *Directory) SetPassword(ctx context.Context, credential, username, password string, replace bool) error {
	if err := d.authorize("set_password", credential); err != nil {
		return err
	}
	if d.creds == nil {
		return fmt.Errorf("%w: directory backend does not store credentials", domain.ErrConfig)
	}
	name := domain.NormalizeUsername(username)
	if err := domain.ValidateUsername(name); err != nil {
		return &domain.CustomerError{Username: domain.SanitizeUsername(name), Op: "set_password", Err: err}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return &domain.CustomerError{Username: name, Op: "set_password", Err: err}
	}
	err = d.creds.SetCredential(ctx, domain.CustomerCredential{Username: name, PasswordHash: hash}, replace)
	if err != nil {
		return &domain.CustomerError{Username: name, Op: "set_password", Err: err}
	}
	d.logger.Info("customer password set", log.Username(name), zap.Bool("replaced", replace))
	return nil
}

// VerifyPassword reports whether password matches the stored credential.
// Customers without a password never match, and the check costs the same
// bcrypt work either way.
func (d *Directory) VerifyPassword(ctx context.Context, username, password string) (bool, error) {
	if d.creds == nil {
		return false, fmt.Errorf("%w: directory backend does not store credentials", domain.ErrConfig)
	}
	name := domain.NormalizeUsername(username)
	c, err := d.creds.GetCredential(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		auth.BurnPasswordCheck(password)
		return false, nil
	}
	if err != nil {
		return false, &domain.CustomerError{Username: name, Op: "verify_password", Err: err}
	}
	return auth.VerifyPassword(c.PasswordHash, password), nil
}

// HasCredentials reports whether password login is available.
func (d *Directory) HasCredentials() bool {
	return d.creds != nil
}

// SweepCache drops expired cache entries.
func (d *Directory) SweepCache() int {
	return d.cache.cleanup()
}

// Ping checks the backing store when it can report its own health.
// Stores without a Ping method are assumed reachable.
func (d *Directory) Ping(ctx context.Context) error {
	if p, ok := d.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (d *Directory) authorize(op, credential string) error {
	if d.adminKey == "" {
		return &domain.CustomerError{Op: op, Err: fmt.Errorf("%w: admin key is not configured", domain.ErrConfig)}
	}
	if !auth.AdminKeyMatches(credential, d.adminKey) {
		d.logger.Warn("admin credential rejected", zap.String("op", op))
		return &domain.CustomerError{Op: op, Err: domain.ErrUnauthorized}
	}
	return nil
}
