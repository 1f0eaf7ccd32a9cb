package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/clientsettings"
	"github.com/koltyakov/arca-edge/internal/config"
	"github.com/koltyakov/arca-edge/internal/domain"
)

const (
	testAdminKey      = "cli-test-admin-key"
	testSessionSecret = "0123456789abcdef0123456789abcdef"
)

func testServeConfig(t *testing.T, mutate func(*config.ServerConfig)) config.ServerConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.FromEnv()
	cfg.BaseDomain = "example.com"
	cfg.AuthMode = config.AuthGated
	cfg.SessionSecret = testSessionSecret
	cfg.AdminKey = testAdminKey
	cfg.OTPEnabled = false
	cfg.DirectoryBackend = config.BackendSQLite
	cfg.RateLimitBackend = config.RateLimitMemory
	cfg.DBPath = filepath.Join(dir, "edge.db")
	cfg.BoltPath = filepath.Join(dir, "edge.bolt")
	cfg.DirectoryFile = filepath.Join(dir, "directory.json")
	cfg.TLSMode = config.TLSOff
	cfg.DefaultUpstream = ""
	cfg.AssetsDir = ""
	cfg.TrustedProxies = nil
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildServerBackends(t *testing.T) {
	t.Parallel()

	tests := map[string]func(*config.ServerConfig){
		"sqlite with memory limiter": nil,
		"sqlite with shared limiter": func(c *config.ServerConfig) { c.RateLimitBackend = config.RateLimitSQLite },
		"bbolt with shared limiter": func(c *config.ServerConfig) {
			c.DirectoryBackend = config.BackendBolt
			c.RateLimitBackend = config.RateLimitBolt
		},
		"file in open mode": func(c *config.ServerConfig) {
			c.DirectoryBackend = config.BackendFile
			c.AuthMode = config.AuthOpen
			c.SessionSecret = ""
		},
		"otp webhook": func(c *config.ServerConfig) {
			c.OTPEnabled = true
			c.OTPWebhookURL = "http://127.0.0.1:9/codes"
		},
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := testServeConfig(t, mutate)
			srv, closeDeps, err := buildServer(cfg, zap.NewNop())
			require.NoError(t, err)
			require.NotNil(t, srv)
			t.Cleanup(closeDeps)
			t.Cleanup(func() { _ = srv.Close() })

			known, err := srv.IsKnownHost(t.Context(), "nobody.example.com")
			require.NoError(t, err)
			assert.False(t, known)
		})
	}
}

func TestRemoteLoginAndCustomers(t *testing.T) {
	t.Setenv(clientsettings.PathEnv, filepath.Join(t.TempDir(), "remote.json"))
	t.Setenv(customerPasswordEnv, "")

	cfg := testServeConfig(t, nil)
	srv, closeDeps, err := buildServer(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(closeDeps)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Close() })

	notConfigured := runCLI(t, "", "customers", "list", "--remote")
	assert.Equal(t, 1, notConfigured.code)
	assert.Contains(t, notConfigured.stderr, "remote login")

	badKey := runCLI(t, "", "remote", "login", "--url", ts.URL, "--admin-key", "wrong")
	assert.Equal(t, 1, badKey.code)
	assert.Contains(t, badKey.stderr, "admin key rejected")

	login := runCLI(t, "", "remote", "login", "--url", ts.URL, "--admin-key", testAdminKey)
	require.Equal(t, 0, login.code, login.stderr)

	show := runCLI(t, "", "remote", "show")
	require.Equal(t, 0, show.code)
	assert.Equal(t, "edge_url: "+ts.URL, strings.TrimSpace(show.stdout))

	add := runCLI(t, "", "customers", "--remote", "add", "dave", "--backend", "http://10.0.0.10:3000")
	require.Equal(t, 0, add.code, add.stderr)
	assert.Contains(t, add.stdout, "username: dave")

	setPw := runCLI(t, "", "customers", "--remote", "set-password", "dave", "--password", "correct-horse")
	require.Equal(t, 0, setPw.code, setPw.stderr)
	again := runCLI(t, "", "customers", "--remote", "set-password", "dave", "--password", "correct-horse")
	assert.Equal(t, 1, again.code)
	assert.Contains(t, again.stderr, domain.ErrCredentialExists.Error())

	list := runCLI(t, "", "customers", "--remote", "list", "--json")
	require.Equal(t, 0, list.code, list.stderr)
	var got domain.CustomerListResponse
	require.NoError(t, json.Unmarshal([]byte(list.stdout), &got))
	require.Len(t, got.Customers, 1)
	assert.Equal(t, "dave", got.Customers[0].Username)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/__edge/login", strings.NewReader(`{"password":"correct-horse"}`))
	require.NoError(t, err)
	req.Host = "dave.example.com"
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session domain.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	assert.True(t, session.Success)
	assert.NotEmpty(t, session.Token)

	logout := runCLI(t, "", "remote", "logout")
	require.Equal(t, 0, logout.code)
	_, err = clientsettings.Load()
	require.ErrorIs(t, err, clientsettings.ErrNotConfigured)
}
