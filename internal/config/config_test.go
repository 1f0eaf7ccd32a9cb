package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/arca-edge/internal/domain"
)

var testSecret = strings.Repeat("s", 32)

func TestNormalizeDomainHost(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"example.com":                 "example.com",
		"https://example.com/path":    "example.com",
		"http://EXAMPLE.com:443/abc":  "example.com",
		"  sub.example.com.  ":        "sub.example.com",
		"https://[2001:db8::1]:10443": "2001:db8::1",
	}

	for in, want := range tests {
		if got := NormalizeDomainHost(in); got != want {
			t.Fatalf("NormalizeDomainHost(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"ARCA_EDGE_DOMAIN", "ARCA_EDGE_AUTH_MODE", "ARCA_EDGE_RESERVED_LABELS", "ARCA_EDGE_SESSION_TTL", "ARCA_EDGE_WAF"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, AuthGated, cfg.AuthMode)
	assert.Equal(t, []string{"www", "app", "api", "admin"}, cfg.ReservedLabels)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, BackendSQLite, cfg.DirectoryBackend)
	assert.Equal(t, TLSOff, cfg.TLSMode)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, WAFBlock, cfg.WAFMode)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ARCA_EDGE_DOMAIN", "Example.COM")
	t.Setenv("ARCA_EDGE_SESSION_TTL", "2h")
	t.Setenv("ARCA_EDGE_RATE_LIMIT_MAX", "9")
	t.Setenv("ARCA_EDGE_COOKIE_SECURE", "false")
	t.Setenv("ARCA_EDGE_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")
	t.Setenv("ARCA_EDGE_RATE_LIMIT_WINDOW", "not-a-duration")

	cfg := FromEnv()
	assert.Equal(t, "Example.COM", cfg.BaseDomain)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 9, cfg.RateLimitMaxAttempts)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.TrustedProxies)
	assert.Equal(t, defaultRateLimitWindow, cfg.RateLimitWindow, "unparsable values fall back to the default")
}

func TestBindFlagsOverridesEnv(t *testing.T) {
	t.Setenv("ARCA_EDGE_DOMAIN", "env.example.com")

	cfg := FromEnv()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--domain", "flag.example.com",
		"--session-secret", testSecret,
		"--reserved-labels", "www,status",
		"--session-ttl", "1h",
	}))

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "flag.example.com", cfg.BaseDomain)
	assert.Equal(t, []string{"www", "status"}, cfg.ReservedLabels)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
}

func validConfig() ServerConfig {
	cfg := FromEnv()
	cfg.BaseDomain = "example.com"
	cfg.SessionSecret = testSecret
	return cfg
}

func TestValidate(t *testing.T) {
	t.Setenv("ARCA_EDGE_DOMAIN", "")
	t.Setenv("ARCA_EDGE_SESSION_SECRET", "")

	tests := map[string]struct {
		mutate  func(*ServerConfig)
		wantErr string
	}{
		"valid":                   {mutate: func(*ServerConfig) {}},
		"open mode needs no key":  {mutate: func(c *ServerConfig) { c.AuthMode = "OPEN"; c.SessionSecret = "" }},
		"missing domain":          {mutate: func(c *ServerConfig) { c.BaseDomain = " " }, wantErr: "missing --domain"},
		"short secret":            {mutate: func(c *ServerConfig) { c.SessionSecret = "short" }, wantErr: "session secret"},
		"unknown auth mode":       {mutate: func(c *ServerConfig) { c.AuthMode = "maybe" }, wantErr: "auth mode"},
		"zero ttl":                {mutate: func(c *ServerConfig) { c.SessionTTL = 0 }, wantErr: "session ttl"},
		"huge ttl":                {mutate: func(c *ServerConfig) { c.SessionTTL = 365 * 24 * time.Hour }, wantErr: "session ttl"},
		"ttl just under 1h":       {mutate: func(c *ServerConfig) { c.SessionTTL = 59 * time.Minute }, wantErr: "session ttl"},
		"ttl of 1h":               {mutate: func(c *ServerConfig) { c.SessionTTL = time.Hour }},
		"ttl of 24h":              {mutate: func(c *ServerConfig) { c.SessionTTL = 24 * time.Hour }},
		"ttl just over 24h":       {mutate: func(c *ServerConfig) { c.SessionTTL = 24*time.Hour + time.Second }, wantErr: "session ttl"},
		"gated on file backend":   {mutate: func(c *ServerConfig) { c.DirectoryBackend = BackendFile }, wantErr: "stores no passwords"},
		"gated on remote backend": {mutate: func(c *ServerConfig) { c.DirectoryBackend = BackendRemote; c.RemoteDirectoryURL = "https://edge.example.com"; c.RemoteDirectoryKey = "k" }, wantErr: "stores no passwords"},
		"open on file backend":    {mutate: func(c *ServerConfig) { c.AuthMode = AuthOpen; c.DirectoryBackend = BackendFile }},
		"otp without webhook":     {mutate: func(c *ServerConfig) { c.OTPEnabled = true }, wantErr: "otp"},
		"unknown backend":         {mutate: func(c *ServerConfig) { c.DirectoryBackend = "redis" }, wantErr: "directory backend"},
		"remote without url":      {mutate: func(c *ServerConfig) { c.DirectoryBackend = BackendRemote }, wantErr: "remote directory"},
		"sqlite limiter on bbolt": {mutate: func(c *ServerConfig) { c.DirectoryBackend = BackendBolt; c.RateLimitBackend = RateLimitSQLite }, wantErr: "rate limit backend"},
		"bbolt limiter on sqlite": {mutate: func(c *ServerConfig) { c.RateLimitBackend = RateLimitBolt }, wantErr: "rate limit backend"},
		"bad proxies":             {mutate: func(c *ServerConfig) { c.TrustedProxies = []string{"nope"} }, wantErr: "trusted proxies"},
		"bad upstream":            {mutate: func(c *ServerConfig) { c.DefaultUpstream = "ftp://x" }, wantErr: "default upstream"},
		"static tls needs files":  {mutate: func(c *ServerConfig) { c.TLSMode = TLSStatic }, wantErr: "static tls"},
		"unknown tls mode":        {mutate: func(c *ServerConfig) { c.TLSMode = "wildcard" }, wantErr: "tls mode"},
		"unknown waf mode":        {mutate: func(c *ServerConfig) { c.WAFMode = "strict" }, wantErr: "waf mode"},
		"zero rate window":        {mutate: func(c *ServerConfig) { c.RateLimitWindow = 0 }, wantErr: "rate limit"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, domain.ErrConfig)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
