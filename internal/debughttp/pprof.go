// Package debughttp runs the optional profiling listener of the edge.
package debughttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/log"
)

const shutdownTimeout = 5 * time.Second

// StartPprofServer starts a pprof HTTP server on addr and shuts it down when
// ctx is canceled. It returns once the listener is bound so address
// conflicts fail fast. An empty addr disables it.
func StartPprofServer(ctx context.Context, addr string, logger *zap.Logger) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           newPprofRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("pprof listening", log.Component("pprof"), log.Addr(ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pprof server error", log.Component("pprof"), zap.Error(err))
		}
	}()

	return nil
}

func newPprofRouter() http.Handler {
	r := chi.NewRouter()
	r.Mount("/debug", middleware.Profiler())
	return r
}
