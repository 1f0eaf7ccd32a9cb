// Package config holds the edge server configuration. Defaults come from
// ARCA_EDGE_* environment variables and are overridden by command-line
// flags bound through [ServerConfig.BindFlags].
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/koltyakov/arca-edge/internal/domain"
	"github.com/koltyakov/arca-edge/internal/netutil"
)

// Auth modes. The mode is fixed for the lifetime of the process.
const (
	AuthGated = "gated"
	AuthOpen  = "open"
)

// Directory backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bbolt"
	BackendFile   = "file"
	BackendRemote = "remote"
)

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitSQLite = "sqlite"
	RateLimitBolt   = "bbolt"
)

// Request filter modes.
const (
	WAFOff   = "off"
	WAFAudit = "audit"
	WAFBlock = "block"
)

// TLS modes.
const (
	TLSOff    = "off"
	TLSAuto   = "auto"
	TLSStatic = "static"
)

const (
	minSessionSecretBytes = 32
	minSessionTTL         = time.Hour
	maxSessionTTL         = 24 * time.Hour

	defaultHTTPListen       = ":8080"
	defaultHTTPSListen      = ":8443"
	defaultDBPath           = "./arca-edge.db"
	defaultBoltPath         = "./arca-edge.bolt"
	defaultDirectoryFile    = "./directory.json"
	defaultCertCacheDir     = "./cert"
	defaultSessionTTL       = 24 * time.Hour
	defaultChallengeTTL     = 10 * time.Minute
	defaultCacheTTL         = 5 * time.Second
	defaultRateLimitMax     = 5
	defaultRateLimitWindow  = 15 * time.Minute
	defaultSweepInterval    = 30 * time.Minute
	defaultUpstreamTimeout  = 60 * time.Second
	defaultDialTimeout      = 10 * time.Second
	defaultShutdownTimeout  = 15 * time.Second
	defaultReservedLabelCSV = "www,app,api,admin"
)

// ServerConfig is the full configuration of `arca-edge serve`.
type ServerConfig struct {
	ListenHTTP  string
	ListenHTTPS string
	BaseDomain  string
	// ReservedLabels are left-most labels that always pass through to the
	// default handler.
	ReservedLabels []string

	AuthMode      string
	SessionSecret string
	SessionTTL    time.Duration
	ChallengeTTL  time.Duration
	CookieSecure  bool
	OTPEnabled    bool
	OTPWebhookURL string
	AdminKey      string

	DirectoryBackend   string
	DBPath             string
	BoltPath           string
	DirectoryFile      string
	RemoteDirectoryURL string
	RemoteDirectoryKey string
	DirectoryCacheTTL  time.Duration

	RateLimitBackend     string
	RateLimitMaxAttempts int
	RateLimitWindow      time.Duration
	SweepInterval        time.Duration
	TrustedProxies       []string

	DefaultUpstream string
	AssetsDir       string
	UpstreamTimeout time.Duration
	DialTimeout     time.Duration
	WAFMode         string

	TLSMode      string
	CertCacheDir string
	TLSCertFile  string
	TLSKeyFile   string
	ACMEEmail    string

	LogLevel        string
	LogFormat       string
	PprofListen     string
	ShutdownTimeout time.Duration
}

// FromEnv returns the defaults, overridden by any ARCA_EDGE_* variables.
func FromEnv() ServerConfig {
	return ServerConfig{
		ListenHTTP:     envOrDefault("ARCA_EDGE_LISTEN_HTTP", defaultHTTPListen),
		ListenHTTPS:    envOrDefault("ARCA_EDGE_LISTEN_HTTPS", defaultHTTPSListen),
		BaseDomain:     envOrDefault("ARCA_EDGE_DOMAIN", ""),
		ReservedLabels: envListOrDefault("ARCA_EDGE_RESERVED_LABELS", defaultReservedLabelCSV),

		AuthMode:      envOrDefault("ARCA_EDGE_AUTH_MODE", AuthGated),
		SessionSecret: envOrDefault("ARCA_EDGE_SESSION_SECRET", ""),
		SessionTTL:    envDurationOrDefault("ARCA_EDGE_SESSION_TTL", defaultSessionTTL),
		ChallengeTTL:  envDurationOrDefault("ARCA_EDGE_CHALLENGE_TTL", defaultChallengeTTL),
		CookieSecure:  envBoolOrDefault("ARCA_EDGE_COOKIE_SECURE", true),
		OTPEnabled:    envBoolOrDefault("ARCA_EDGE_OTP", false),
		OTPWebhookURL: envOrDefault("ARCA_EDGE_OTP_WEBHOOK_URL", ""),
		AdminKey:      envOrDefault("ARCA_EDGE_ADMIN_KEY", ""),

		DirectoryBackend:   envOrDefault("ARCA_EDGE_DIRECTORY_BACKEND", BackendSQLite),
		DBPath:             envOrDefault("ARCA_EDGE_DB_PATH", defaultDBPath),
		BoltPath:           envOrDefault("ARCA_EDGE_BOLT_PATH", defaultBoltPath),
		DirectoryFile:      envOrDefault("ARCA_EDGE_DIRECTORY_FILE", defaultDirectoryFile),
		RemoteDirectoryURL: envOrDefault("ARCA_EDGE_REMOTE_DIRECTORY_URL", ""),
		RemoteDirectoryKey: envOrDefault("ARCA_EDGE_REMOTE_DIRECTORY_KEY", ""),
		DirectoryCacheTTL:  envDurationOrDefault("ARCA_EDGE_DIRECTORY_CACHE_TTL", defaultCacheTTL),

		RateLimitBackend:     envOrDefault("ARCA_EDGE_RATE_LIMIT_BACKEND", RateLimitMemory),
		RateLimitMaxAttempts: envIntOrDefault("ARCA_EDGE_RATE_LIMIT_MAX", defaultRateLimitMax),
		RateLimitWindow:      envDurationOrDefault("ARCA_EDGE_RATE_LIMIT_WINDOW", defaultRateLimitWindow),
		SweepInterval:        envDurationOrDefault("ARCA_EDGE_SWEEP_INTERVAL", defaultSweepInterval),
		TrustedProxies:       envListOrDefault("ARCA_EDGE_TRUSTED_PROXIES", ""),

		DefaultUpstream: envOrDefault("ARCA_EDGE_DEFAULT_UPSTREAM", ""),
		AssetsDir:       envOrDefault("ARCA_EDGE_ASSETS_DIR", ""),
		UpstreamTimeout: envDurationOrDefault("ARCA_EDGE_UPSTREAM_TIMEOUT", defaultUpstreamTimeout),
		DialTimeout:     envDurationOrDefault("ARCA_EDGE_DIAL_TIMEOUT", defaultDialTimeout),
		WAFMode:         envOrDefault("ARCA_EDGE_WAF", WAFBlock),

		TLSMode:      envOrDefault("ARCA_EDGE_TLS_MODE", TLSOff),
		CertCacheDir: envOrDefault("ARCA_EDGE_CERT_CACHE_DIR", defaultCertCacheDir),
		TLSCertFile:  envOrDefault("ARCA_EDGE_TLS_CERT_FILE", ""),
		TLSKeyFile:   envOrDefault("ARCA_EDGE_TLS_KEY_FILE", ""),
		ACMEEmail:    envOrDefault("ARCA_EDGE_ACME_EMAIL", ""),

		LogLevel:        envOrDefault("ARCA_EDGE_LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("ARCA_EDGE_LOG_FORMAT", "json"),
		PprofListen:     envOrDefault("ARCA_EDGE_PPROF_LISTEN", ""),
		ShutdownTimeout: envDurationOrDefault("ARCA_EDGE_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
	}
}

// BindFlags registers a flag for every setting, using the current values
// of c as defaults.
func (c *ServerConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ListenHTTP, "listen-http", c.ListenHTTP, "HTTP listen address")
	fs.StringVar(&c.ListenHTTPS, "listen-https", c.ListenHTTPS, "HTTPS listen address (tls-mode auto|static)")
	fs.StringVar(&c.BaseDomain, "domain", c.BaseDomain, "Public base domain, e.g. example.com")
	fs.StringSliceVar(&c.ReservedLabels, "reserved-labels", c.ReservedLabels, "Left-most labels that pass through to the default handler")

	fs.StringVar(&c.AuthMode, "auth-mode", c.AuthMode, "Customer host auth: gated|open")
	fs.StringVar(&c.SessionSecret, "session-secret", c.SessionSecret, "HMAC secret for session tokens (>= 32 bytes)")
	fs.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "Session lifetime, 1h to 24h")
	fs.DurationVar(&c.ChallengeTTL, "challenge-ttl", c.ChallengeTTL, "One-time code challenge lifetime")
	fs.BoolVar(&c.CookieSecure, "cookie-secure", c.CookieSecure, "Mark the session cookie Secure")
	fs.BoolVar(&c.OTPEnabled, "otp", c.OTPEnabled, "Require a one-time code after the password")
	fs.StringVar(&c.OTPWebhookURL, "otp-webhook-url", c.OTPWebhookURL, "URL that receives one-time codes for delivery")
	fs.StringVar(&c.AdminKey, "admin-key", c.AdminKey, "Bearer key for the admin API")

	fs.StringVar(&c.DirectoryBackend, "directory-backend", c.DirectoryBackend, "Directory backend: sqlite|bbolt|file|remote")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path")
	fs.StringVar(&c.BoltPath, "bolt", c.BoltPath, "bbolt database path")
	fs.StringVar(&c.DirectoryFile, "directory-file", c.DirectoryFile, "JSON directory file path")
	fs.StringVar(&c.RemoteDirectoryURL, "remote-directory-url", c.RemoteDirectoryURL, "Base URL of the edge that owns the directory")
	fs.StringVar(&c.RemoteDirectoryKey, "remote-directory-key", c.RemoteDirectoryKey, "Admin key of the remote directory edge")
	fs.DurationVar(&c.DirectoryCacheTTL, "directory-cache-ttl", c.DirectoryCacheTTL, "Directory lookup cache TTL (0 disables)")

	fs.StringVar(&c.RateLimitBackend, "rate-limit-backend", c.RateLimitBackend, "Rate limit backend: memory|sqlite|bbolt")
	fs.IntVar(&c.RateLimitMaxAttempts, "rate-limit-max", c.RateLimitMaxAttempts, "Attempts allowed per window")
	fs.DurationVar(&c.RateLimitWindow, "rate-limit-window", c.RateLimitWindow, "Rate limit window")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Janitor interval for expired limiter and cache entries")
	fs.StringSliceVar(&c.TrustedProxies, "trusted-proxies", c.TrustedProxies, "CIDRs or IPs whose X-Forwarded-For is trusted")

	fs.StringVar(&c.DefaultUpstream, "default-upstream", c.DefaultUpstream, "Upstream for non-customer hosts (storefront)")
	fs.StringVar(&c.AssetsDir, "assets-dir", c.AssetsDir, "Directory of UI assets served on customer hosts")
	fs.DurationVar(&c.UpstreamTimeout, "upstream-timeout", c.UpstreamTimeout, "Backend response header timeout")
	fs.DurationVar(&c.DialTimeout, "dial-timeout", c.DialTimeout, "Backend dial timeout")
	fs.StringVar(&c.WAFMode, "waf", c.WAFMode, "Request filter: off|audit|block")

	fs.StringVar(&c.TLSMode, "tls-mode", c.TLSMode, "TLS mode: off|auto|static")
	fs.StringVar(&c.CertCacheDir, "cert-cache-dir", c.CertCacheDir, "ACME certificate cache dir")
	fs.StringVar(&c.TLSCertFile, "tls-cert-file", c.TLSCertFile, "Static TLS certificate PEM file")
	fs.StringVar(&c.TLSKeyFile, "tls-key-file", c.TLSKeyFile, "Static TLS key PEM file")
	fs.StringVar(&c.ACMEEmail, "acme-email", c.ACMEEmail, "ACME account contact email")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: json|console")
	fs.StringVar(&c.PprofListen, "pprof-listen", c.PprofListen, "Optional pprof listen address")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Graceful shutdown timeout")
}

// Validate normalizes c in place and reports the first invalid setting as a
// wrapped [domain.ErrConfig].
func (c *ServerConfig) Validate() error {
	c.BaseDomain = NormalizeDomainHost(c.BaseDomain)
	if c.BaseDomain == "" {
		return configErr("missing --domain or ARCA_EDGE_DOMAIN")
	}
	labels := make([]string, 0, len(c.ReservedLabels))
	for _, l := range c.ReservedLabels {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			labels = append(labels, l)
		}
	}
	c.ReservedLabels = labels

	c.AuthMode = lowerTrim(c.AuthMode)
	switch c.AuthMode {
	case AuthGated:
		if len(c.SessionSecret) < minSessionSecretBytes {
			return configErr("session secret must be at least %d bytes in gated mode", minSessionSecretBytes)
		}
	case AuthOpen:
	default:
		return configErr("auth mode must be gated or open, got %q", c.AuthMode)
	}
	if c.SessionTTL < minSessionTTL || c.SessionTTL > maxSessionTTL {
		return configErr("session ttl must be between %s and %s", minSessionTTL, maxSessionTTL)
	}
	if c.ChallengeTTL <= 0 || c.ChallengeTTL > time.Hour {
		return configErr("challenge ttl must be in (0, 1h]")
	}
	if c.OTPEnabled && c.AuthMode == AuthGated && strings.TrimSpace(c.OTPWebhookURL) == "" {
		return configErr("otp requires --otp-webhook-url")
	}

	c.DirectoryBackend = lowerTrim(c.DirectoryBackend)
	switch c.DirectoryBackend {
	case BackendSQLite, BackendBolt, BackendFile:
	case BackendRemote:
		if c.RemoteDirectoryURL == "" || c.RemoteDirectoryKey == "" {
			return configErr("remote directory needs --remote-directory-url and --remote-directory-key")
		}
	default:
		return configErr("unknown directory backend %q", c.DirectoryBackend)
	}
	if c.AuthMode == AuthGated && (c.DirectoryBackend == BackendFile || c.DirectoryBackend == BackendRemote) {
		return configErr("gated auth needs the sqlite or bbolt directory backend; %s stores no passwords", c.DirectoryBackend)
	}
	if c.DirectoryCacheTTL < 0 {
		return configErr("directory cache ttl must be >= 0")
	}

	c.RateLimitBackend = lowerTrim(c.RateLimitBackend)
	switch c.RateLimitBackend {
	case RateLimitMemory:
	case RateLimitSQLite:
		if c.DirectoryBackend != BackendSQLite {
			return configErr("sqlite rate limit backend requires the sqlite directory backend")
		}
	case RateLimitBolt:
		if c.DirectoryBackend != BackendBolt {
			return configErr("bbolt rate limit backend requires the bbolt directory backend")
		}
	default:
		return configErr("unknown rate limit backend %q", c.RateLimitBackend)
	}
	if c.RateLimitMaxAttempts <= 0 || c.RateLimitWindow <= 0 {
		return configErr("rate limit needs positive max attempts and window")
	}
	if c.SweepInterval <= 0 {
		return configErr("sweep interval must be > 0")
	}
	if _, err := netutil.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return configErr("trusted proxies: %v", err)
	}

	if c.DefaultUpstream != "" {
		if _, err := domain.ParseBackendURL(c.DefaultUpstream); err != nil {
			return configErr("default upstream: %v", err)
		}
	}
	if c.UpstreamTimeout <= 0 || c.DialTimeout <= 0 {
		return configErr("upstream and dial timeouts must be > 0")
	}
	c.WAFMode = lowerTrim(c.WAFMode)
	switch c.WAFMode {
	case WAFOff, WAFAudit, WAFBlock:
	case "":
		c.WAFMode = WAFOff
	default:
		return configErr("waf mode must be one of: off, audit, block")
	}

	c.TLSMode = lowerTrim(c.TLSMode)
	switch c.TLSMode {
	case TLSOff, TLSAuto:
	case TLSStatic:
		if c.TLSCertFile == "" || c.TLSKeyFile == "" {
			return configErr("static tls needs --tls-cert-file and --tls-key-file")
		}
	default:
		return configErr("tls mode must be one of: off, auto, static")
	}
	if c.ShutdownTimeout <= 0 {
		return configErr("shutdown timeout must be > 0")
	}
	return nil
}

// NormalizeDomainHost reduces a domain, host:port or URL to a bare
// lower-case host name.
func NormalizeDomainHost(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	if idx := strings.Index(v, "/"); idx >= 0 {
		v = v[:idx]
	}
	return netutil.NormalizeHost(v)
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfig, fmt.Sprintf(format, args...))
}

func lowerTrim(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envListOrDefault(key, def string) []string {
	v := envOrDefault(key, def)
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
