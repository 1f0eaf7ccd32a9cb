// Package waf is the edge's request filter. It rejects requests carrying
// common attack patterns (SQL injection, XSS, path traversal, shell
// injection, scanner bots) before they reach a customer backend or the
// storefront.
package waf

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/log"
	"github.com/koltyakov/arca-edge/internal/netutil"
)

// Match describes one filtered request.
type Match struct {
	Host       string
	Rule       string
	Method     string
	RequestURI string
	RemoteIP   string
	UserAgent  string
	// Blocked is false in audit mode, where the request is let through.
	Blocked bool
}

// Config controls the filter.
type Config struct {
	// AuditOnly logs and reports matches without blocking.
	AuditOnly bool
	// Trusted are the proxies whose X-Forwarded-For names the client.
	Trusted netutil.TrustedProxies
	// OnMatch, when set, is called for every match.
	OnMatch func(Match)
}

// Filter holds the compiled rule set.
type Filter struct {
	rules     []rule
	auditOnly bool
	trusted   netutil.TrustedProxies
	onMatch   func(Match)
	log       *zap.Logger
}

var forbiddenJSONBody = []byte(`{"error":"Forbidden","error_code":"forbidden"}` + "\n")

// New compiles the built-in rules.
func New(cfg Config, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		rules:     defaultRules(),
		auditOnly: cfg.AuditOnly,
		trusted:   cfg.Trusted,
		onMatch:   cfg.OnMatch,
		log:       logger.With(log.Component("waf")),
	}
}

// Middleware wraps next. Matching requests get 403 unless the filter is in
// audit mode. /healthz is exempt.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		ruleName, matched := f.Check(r)
		if !matched {
			next.ServeHTTP(w, r)
			return
		}

		m := Match{
			Host:       netutil.NormalizeHost(r.Host),
			Rule:       ruleName,
			Method:     r.Method,
			RequestURI: r.RequestURI,
			RemoteIP:   netutil.ClientIP(r, f.trusted),
			UserAgent:  r.UserAgent(),
			Blocked:    !f.auditOnly,
		}
		msg := "request blocked"
		if f.auditOnly {
			msg = "request matched (audit)"
		}
		f.log.Warn(msg,
			zap.String("rule", m.Rule),
			log.Host(m.Host),
			log.Method(m.Method),
			zap.String("uri", m.RequestURI),
			log.RemoteIP(m.RemoteIP),
			zap.String("user_agent", m.UserAgent),
		)
		if f.onMatch != nil {
			f.onMatch(m)
		}

		if f.auditOnly {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write(forbiddenJSONBody)
	})
}
