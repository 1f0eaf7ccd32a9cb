package edge

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/koltyakov/arca-edge/internal/config"
	"github.com/koltyakov/arca-edge/internal/log"
	"github.com/koltyakov/arca-edge/internal/netutil"
)

type staticCertificate struct {
	cert tls.Certificate
	leaf *x509.Certificate
}

// loadStaticCertificate loads the PEM pair for static mode. The leaf must
// cover the base domain and its wildcard.
func (s *Server) loadStaticCertificate() (*staticCertificate, error) {
	certFile := strings.TrimSpace(s.cfg.TLSCertFile)
	keyFile := strings.TrimSpace(s.cfg.TLSKeyFile)
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load static TLS certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse static TLS certificate: %w", err)
	}
	if err := leaf.VerifyHostname(s.base); err != nil {
		return nil, fmt.Errorf("static TLS certificate must include %s: %w", s.base, err)
	}
	if err := leaf.VerifyHostname("check." + s.base); err != nil {
		return nil, fmt.Errorf("static TLS certificate must include *.%s: %w", s.base, err)
	}
	s.log.Info("static TLS certificate loaded",
		zap.String("cert_file", certFile), zap.String("subject", leaf.Subject.String()),
		zap.Time("not_after", leaf.NotAfter))
	return &staticCertificate{cert: cert, leaf: leaf}, nil
}

func (c *staticCertificate) supportsHost(host string) bool {
	if c == nil {
		return false
	}
	if host == "" || c.leaf == nil {
		return true
	}
	return c.leaf.VerifyHostname(host) == nil
}

// selectCertificate serves the static certificate for hosts it covers and
// falls back to ACME when a manager is present.
func selectCertificate(manager *autocert.Manager, static *staticCertificate) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		host := netutil.NormalizeHost(hello.ServerName)
		if static.supportsHost(host) {
			return &static.cert, nil
		}
		if manager == nil {
			if host == "" {
				return nil, errors.New("missing server name")
			}
			return nil, fmt.Errorf("certificate does not cover host %q", host)
		}
		return manager.GetCertificate(hello)
	}
}

// newTLSConfig builds the HTTPS listener config for the configured mode. The
// manager is nil outside of auto mode.
func (s *Server) newTLSConfig() (*tls.Config, *autocert.Manager, error) {
	var (
		manager *autocert.Manager
		static  *staticCertificate
	)
	switch s.cfg.TLSMode {
	case config.TLSAuto:
		manager = &autocert.Manager{
			Cache:      autocert.DirCache(s.cfg.CertCacheDir),
			Prompt:     autocert.AcceptTOS,
			Email:      s.cfg.ACMEEmail,
			HostPolicy: s.hostPolicy,
		}
	case config.TLSStatic:
		var err error
		if static, err = s.loadStaticCertificate(); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("tls mode %q has no HTTPS listener", s.cfg.TLSMode)
	}

	var tlsConfig *tls.Config
	if manager != nil {
		tlsConfig = manager.TLSConfig()
	} else {
		tlsConfig = &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
	}
	tlsConfig.MinVersion = tls.VersionTLS12
	tlsConfig.GetCertificate = selectCertificate(manager, static)
	return tlsConfig, manager, nil
}

type tlsErrorLogWriter struct {
	log                  *zap.Logger
	dynamicACME          bool
	provisioningHintOnce sync.Once
}

func newTLSErrorLogWriter(logger *zap.Logger, dynamicACME bool) *tlsErrorLogWriter {
	return &tlsErrorLogWriter{log: logger.With(log.Component("https")), dynamicACME: dynamicACME}
}

func (w *tlsErrorLogWriter) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	if line == "" {
		return len(p), nil
	}
	if w.logTLSHandshakeLine(line) {
		return len(p), nil
	}
	w.log.Warn("https server error", zap.String("detail", line))
	return len(p), nil
}

func (w *tlsErrorLogWriter) logTLSHandshakeLine(line string) bool {
	const marker = "TLS handshake error from "
	idx := strings.Index(line, marker)
	if idx < 0 {
		return false
	}
	payload := line[idx+len(marker):]
	addr, reason, ok := strings.Cut(payload, ": ")
	if !ok {
		w.log.Debug("tls handshake dropped", zap.String("detail", payload))
		return true
	}
	addr = strings.TrimSpace(addr)
	reason = strings.TrimSpace(reason)
	if isLikelyScannerTLSReason(reason) {
		w.log.Debug("tls handshake rejected", zap.String("remote_addr", addr), zap.String("reason", reason))
		return true
	}
	if w.dynamicACME && isLikelyTLSProvisioningReason(reason) {
		w.provisioningHintOnce.Do(func() {
			w.log.Info("certificate provisioning in progress for a new host; initial handshake retries are expected")
		})
		w.log.Info("tls handshake retried during certificate provisioning", zap.String("remote_addr", addr), zap.String("reason", reason))
		return true
	}
	w.log.Warn("tls handshake failed", zap.String("remote_addr", addr), zap.String("reason", reason))
	return true
}

func isLikelyTLSProvisioningReason(reason string) bool {
	reason = strings.ToLower(reason)
	return strings.Contains(reason, "bad certificate") ||
		strings.Contains(reason, "failed to verify certificate") ||
		strings.Contains(reason, "x509:")
}

func isLikelyScannerTLSReason(reason string) bool {
	reason = strings.ToLower(reason)
	if reason == "" {
		return false
	}
	return reason == "eof" ||
		strings.Contains(reason, "missing server name") ||
		strings.Contains(reason, "unsupported application protocols") ||
		strings.Contains(reason, "offered only unsupported versions") ||
		strings.Contains(reason, "no cipher suite supported by both client and server") ||
		strings.Contains(reason, "host not allowed") ||
		strings.Contains(reason, "connection reset by peer") ||
		strings.Contains(reason, "i/o timeout") ||
		strings.Contains(reason, "first record does not look like a tls handshake") ||
		strings.Contains(reason, "http request to an https server")
}
