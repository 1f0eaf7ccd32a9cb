package edge

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/log"
	"github.com/koltyakov/arca-edge/internal/versionutil"
)

const (
	versionHeader  = "X-Arca-Edge-Version"
	healthzTimeout = 2 * time.Second
)

// defaultRouter handles every host that is not a customer subdomain.
func (s *Server) defaultRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Mount("/v1/customers", s.adminRouter())
	r.NotFound(s.serveFallback)
	r.MethodNotAllowed(s.serveFallback)
	return r
}

// handleHealthz answers ok while the directory store is reachable.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(versionHeader, versionutil.Current())
	ctx, cancel := context.WithTimeout(r.Context(), healthzTimeout)
	defer cancel()
	if err := s.dir.Ping(ctx); err != nil {
		s.log.Warn("health check failed", log.RequestID(requestIDFrom(r.Context())), zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// serveFallback proxies to the default upstream when one is configured.
func (s *Server) serveFallback(w http.ResponseWriter, r *http.Request) {
	if s.fallback == nil {
		http.NotFound(w, r)
		return
	}
	s.forward(w, r, &proxyTarget{url: s.fallback.url})
}
