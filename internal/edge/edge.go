// Package edge is the customer-facing router. It classifies each request by
// its Host header, resolves customer subdomains through the directory,
// enforces the edge session and forwards to the customer's backend. Every
// other host falls through to the default handler, which carries health,
// metrics, the admin API and the optional storefront upstream.
package edge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/config"
	"github.com/koltyakov/arca-edge/internal/directory"
	"github.com/koltyakov/arca-edge/internal/domain"
	"github.com/koltyakov/arca-edge/internal/log"
	"github.com/koltyakov/arca-edge/internal/metrics"
	"github.com/koltyakov/arca-edge/internal/netutil"
	"github.com/koltyakov/arca-edge/internal/ratelimit"
	"github.com/koltyakov/arca-edge/internal/token"
	"github.com/koltyakov/arca-edge/internal/waf"
)

const (
	entryPrefix     = "/__edge/"
	markerHeader    = "X-Proxied-By"
	markerValue     = "arca-edge"
	requestIDHeader = "X-Request-ID"

	maxEntryBodyBytes = 8 * 1024
	maxAdminBodyBytes = 64 * 1024

	cacheSweepInterval = time.Minute
)

// Deps are the collaborators a [Server] routes through.
type Deps struct {
	Directory *directory.Directory
	// Codec signs sessions. Required unless the auth mode is open.
	Codec *token.Codec
	// Limiter guards the sign-in entry points. Nil gets an in-memory
	// limiter sized from the config.
	Limiter *ratelimit.Limiter
	// Sender delivers one-time codes. Required when OTP is enabled.
	Sender  CodeSender
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Server is the edge router. Create it with [New], serve [Server.Handler]
// or call [Server.Run].
type Server struct {
	cfg      config.ServerConfig
	base     string
	reserved map[string]struct{}
	gated    bool

	dir     *directory.Directory
	codec   *token.Codec
	limiter *ratelimit.Limiter
	sender  CodeSender
	metrics *metrics.Metrics
	log     *zap.Logger
	trusted netutil.TrustedProxies

	dialer    *net.Dialer
	transport *http.Transport
	proxy     *httputil.ReverseProxy
	fallback  *proxyTarget
	assets    *os.Root
	router    http.Handler
	filter    *waf.Filter
	upgrades  *upgradeHub

	now func() time.Time
}

// New validates cfg and deps and builds the router. cfg is expected to have
// passed [config.ServerConfig.Validate].
func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Directory == nil {
		return nil, fmt.Errorf("%w: edge needs a customer directory", domain.ErrConfig)
	}
	base := config.NormalizeDomainHost(cfg.BaseDomain)
	if base == "" {
		return nil, fmt.Errorf("%w: base domain is required", domain.ErrConfig)
	}
	gated := cfg.AuthMode != config.AuthOpen
	if gated && deps.Codec == nil {
		return nil, fmt.Errorf("%w: gated auth needs a session codec", domain.ErrConfig)
	}
	if gated && !deps.Directory.HasCredentials() {
		return nil, fmt.Errorf("%w: gated auth needs a directory backend that stores passwords", domain.ErrConfig)
	}
	if gated && cfg.OTPEnabled && deps.Sender == nil {
		return nil, fmt.Errorf("%w: one-time codes need a code sender", domain.ErrConfig)
	}
	trusted, err := netutil.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter, err = ratelimit.New(ratelimit.Config{
			MaxAttempts: cfg.RateLimitMaxAttempts,
			Window:      cfg.RateLimitWindow,
		}, nil)
		if err != nil {
			return nil, err
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reserved := make(map[string]struct{}, len(cfg.ReservedLabels))
	for _, label := range cfg.ReservedLabels {
		if label = strings.ToLower(strings.TrimSpace(label)); label != "" {
			reserved[label] = struct{}{}
		}
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	s := &Server{
		cfg:      cfg,
		base:     base,
		reserved: reserved,
		gated:    gated,
		dir:      deps.Directory,
		codec:    deps.Codec,
		limiter:  limiter,
		sender:   deps.Sender,
		metrics:  deps.Metrics,
		log:      logger.With(log.Component("edge")),
		trusted:  trusted,
		dialer:   dialer,
		transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          256,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   dialTimeout,
			ResponseHeaderTimeout: cfg.UpstreamTimeout,
			ExpectContinueTimeout: time.Second,
		},
		upgrades: newUpgradeHub(),
		now:      time.Now,
	}
	s.proxy = s.newReverseProxy()

	if strings.TrimSpace(cfg.DefaultUpstream) != "" {
		u, err := domain.ParseBackendURL(cfg.DefaultUpstream)
		if err != nil {
			return nil, fmt.Errorf("%w: default upstream: %v", domain.ErrConfig, err)
		}
		s.fallback = &proxyTarget{url: u}
	}
	if strings.TrimSpace(cfg.AssetsDir) != "" {
		root, err := os.OpenRoot(cfg.AssetsDir)
		if err != nil {
			return nil, fmt.Errorf("%w: assets dir: %v", domain.ErrConfig, err)
		}
		s.assets = root
	}
	if mode := cfg.WAFMode; mode == config.WAFAudit || mode == config.WAFBlock {
		s.filter = waf.New(waf.Config{
			AuditOnly: mode == config.WAFAudit,
			Trusted:   trusted,
			OnMatch:   s.recordFilterMatch,
		}, logger)
	}
	s.router = s.defaultRouter()
	return s, nil
}

// Handler returns the edge as an http.Handler, request IDs included.
func (s *Server) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(s.serveHTTP)
	if s.filter != nil {
		h = s.filter.Middleware(h)
	}
	return s.withRequestID(h)
}

func (s *Server) recordFilterMatch(m waf.Match) {
	if !m.Blocked {
		s.metrics.FilterMatch(m.Rule, "audit")
		return
	}
	s.metrics.FilterMatch(m.Rule, "block")
	s.metrics.Request(metrics.OutcomeBlocked)
}

// Close releases resources held outside of [Server.Run].
func (s *Server) Close() error {
	s.transport.CloseIdleConnections()
	if s.assets != nil {
		return s.assets.Close()
	}
	return nil
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	username, ok := s.classify(r.Host)
	if !ok {
		s.metrics.Request(metrics.OutcomePassthrough)
		s.router.ServeHTTP(w, r)
		return
	}
	s.serveCustomer(w, r, username)
}

func (s *Server) serveCustomer(w http.ResponseWriter, r *http.Request, username string) {
	ctx := r.Context()
	mapping, err := s.dir.Resolve(ctx, username)
	if err != nil {
		if errorsIsNotFound(err) {
			s.metrics.Request(metrics.OutcomeNotFound)
			writeNotFoundPage(w, r, username)
			return
		}
		s.log.Error("directory lookup failed",
			log.Username(domain.SanitizeUsername(username)), log.Host(r.Host),
			log.RequestID(requestIDFrom(ctx)), zap.Error(err))
		s.metrics.Request(metrics.OutcomeUnavailable)
		writeUnavailablePage(w, r)
		return
	}
	target, err := domain.ParseBackendURL(mapping.BackendURL)
	if err != nil {
		s.log.Error("stored backend url is invalid",
			log.Username(mapping.Username), log.Target(mapping.BackendURL), zap.Error(err))
		s.metrics.Request(metrics.OutcomeUnavailable)
		writeUnavailablePage(w, r)
		return
	}

	if strings.HasPrefix(r.URL.Path, entryPrefix) {
		s.metrics.Request(metrics.OutcomeEntryPoint)
		s.serveEntryPoint(w, r, mapping.Username)
		return
	}

	if netutil.IsUpgradeRequest(r) {
		s.serveUpgrade(w, r, mapping.Username, target)
		return
	}

	grant, ok := s.authenticate(w, r, mapping.Username, true)
	if !ok {
		s.metrics.Request(metrics.OutcomeUnauthorized)
		s.writeUnauthorized(w, r)
		return
	}
	if s.serveAsset(w, r) {
		s.metrics.Request(metrics.OutcomeAsset)
		return
	}
	s.forward(w, r, &proxyTarget{
		username:  mapping.Username,
		url:       target,
		stripAuth: grant.viaBearer,
	})
}

// classify returns the customer username for host, or false when the
// request passes through to the default handler.
func (s *Server) classify(rawHost string) (string, bool) {
	host := netutil.NormalizeHost(rawHost)
	if host == "" || host == s.base {
		return "", false
	}
	label, ok := strings.CutSuffix(host, "."+s.base)
	if !ok || label == "" || strings.Contains(label, ".") {
		return "", false
	}
	if _, reserved := s.reserved[label]; reserved {
		return "", false
	}
	return label, true
}

// IsKnownHost reports whether host is the base domain or a customer
// subdomain with a directory entry. It backs the ACME host policy.
func (s *Server) IsKnownHost(ctx context.Context, host string) (bool, error) {
	host = netutil.NormalizeHost(host)
	if host == s.base {
		return true, nil
	}
	username, ok := s.classify(host)
	if !ok {
		return false, nil
	}
	_, err := s.dir.Resolve(ctx, username)
	if errorsIsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

type upgradeHub struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func newUpgradeHub() *upgradeHub {
	return &upgradeHub{conns: map[net.Conn]struct{}{}}
}

func (h *upgradeHub) track(conns ...net.Conn) {
	h.mu.Lock()
	for _, c := range conns {
		h.conns[c] = struct{}{}
	}
	h.mu.Unlock()
	h.wg.Add(1)
}

func (h *upgradeHub) untrack(conns ...net.Conn) {
	h.mu.Lock()
	for _, c := range conns {
		delete(h.conns, c)
	}
	h.mu.Unlock()
	h.wg.Done()
}

func (h *upgradeHub) closeAll() int {
	h.mu.Lock()
	conns := make([]net.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}
