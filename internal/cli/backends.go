package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/koltyakov/arca-edge/internal/config"
	"github.com/koltyakov/arca-edge/internal/directory"
	"github.com/koltyakov/arca-edge/internal/domain"
	"github.com/koltyakov/arca-edge/internal/ratelimit"
	boltstore "github.com/koltyakov/arca-edge/internal/store/bbolt"
	"github.com/koltyakov/arca-edge/internal/store/sqlite"
)

// backends holds the opened persistence layer for one process.
type backends struct {
	directory directory.Store
	// rateLimits is nil for the in-memory limiter.
	rateLimits ratelimit.Store
	closers    []io.Closer
}

// openBackends opens the directory store selected by cfg and, when the rate
// limit backend shares it, the persistent limiter store.
func openBackends(cfg config.ServerConfig) (*backends, error) {
	b := &backends{}
	switch cfg.DirectoryBackend {
	case config.BackendSQLite:
		st, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
		}
		b.directory = st
		b.closers = append(b.closers, st)
		if cfg.RateLimitBackend == config.RateLimitSQLite {
			b.rateLimits = st.RateLimits()
		}
	case config.BackendBolt:
		st, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bbolt %s: %w", cfg.BoltPath, err)
		}
		b.directory = st
		b.closers = append(b.closers, st)
		if cfg.RateLimitBackend == config.RateLimitBolt {
			b.rateLimits = st.RateLimits()
		}
	case config.BackendFile:
		b.directory = directory.NewFileStore(cfg.DirectoryFile)
	case config.BackendRemote:
		st, err := directory.NewRemoteStore(cfg.RemoteDirectoryURL, cfg.RemoteDirectoryKey, nil)
		if err != nil {
			return nil, err
		}
		b.directory = st
	default:
		return nil, fmt.Errorf("%w: unknown directory backend %q", domain.ErrConfig, cfg.DirectoryBackend)
	}
	return b, nil
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
