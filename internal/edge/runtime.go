package edge

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/config"
	"github.com/koltyakov/arca-edge/internal/log"
)

const (
	httpReadHeaderTimeout = 10 * time.Second
	httpIdleTimeout       = 120 * time.Second
	httpMaxHeaderBytes    = 64 * 1024
)

// Run starts the listeners and background janitor. It blocks until ctx is
// cancelled or a listener fails, then shuts down: upgraded connections are
// closed and in-flight requests drain within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	httpErrorLog, err := zap.NewStdLogAt(s.log.With(log.Component("http")), zap.WarnLevel)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.runJanitor(ctx)

	handler := s.Handler()
	errCh := make(chan error, 2)

	var httpsServer *http.Server
	httpHandler := handler
	if s.cfg.TLSMode != config.TLSOff {
		tlsConfig, manager, err := s.newTLSConfig()
		if err != nil {
			return err
		}
		if manager != nil {
			httpHandler = manager.HTTPHandler(handler)
		}
		httpsServer = &http.Server{
			Addr:              s.cfg.ListenHTTPS,
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: httpReadHeaderTimeout,
			IdleTimeout:       httpIdleTimeout,
			MaxHeaderBytes:    httpMaxHeaderBytes,
			ErrorLog:          stdlog.New(newTLSErrorLogWriter(s.log, manager != nil), "", 0),
		}
		go func() {
			s.log.Info("starting HTTPS server", log.Addr(s.cfg.ListenHTTPS), log.TLSMode(s.cfg.TLSMode))
			if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              s.cfg.ListenHTTP,
		Handler:           httpHandler,
		ReadHeaderTimeout: httpReadHeaderTimeout,
		IdleTimeout:       httpIdleTimeout,
		MaxHeaderBytes:    httpMaxHeaderBytes,
		ErrorLog:          httpErrorLog,
	}
	go func() {
		s.log.Info("starting HTTP server", log.Addr(s.cfg.ListenHTTP), log.TLSMode(s.cfg.TLSMode))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancel()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if n := s.upgrades.closeAll(); n > 0 {
		s.log.Info("closed upgraded connections", zap.Int("count", n))
	}
	if err := shutdownServer(httpServer, timeout); err != nil && runErr == nil {
		runErr = err
	}
	if httpsServer != nil {
		if err := shutdownServer(httpsServer, timeout); err != nil && runErr == nil {
			runErr = err
		}
	}
	if !waitGroupWait(&s.upgrades.wg, timeout) {
		s.log.Warn("upgraded connections still open after shutdown timeout")
	}
	if err := s.Close(); err != nil && runErr == nil {
		runErr = err
	}
	s.log.Info("edge stopped")
	return runErr
}

// hostPolicy admits the base domain and subdomains of known customers to
// ACME issuance.
func (s *Server) hostPolicy(ctx context.Context, host string) error {
	ok, err := s.IsKnownHost(ctx, host)
	if err != nil {
		return errors.New("failed to authorize host")
	}
	if !ok {
		return errors.New("host not allowed")
	}
	return nil
}

func (s *Server) runJanitor(ctx context.Context) {
	go s.limiter.Run(ctx, s.cfg.SweepInterval, func(n int, err error) {
		if err != nil {
			s.log.Warn("rate limit sweep failed", zap.Error(err))
			return
		}
		s.metrics.RateLimitSwept(n)
		if n > 0 {
			s.log.Debug("rate limit entries swept", zap.Int("count", n))
		}
	})

	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.dir.SweepCache(); n > 0 {
				s.log.Debug("directory cache entries swept", zap.Int("count", n))
			}
		}
	}
}
