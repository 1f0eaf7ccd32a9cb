package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/arca-edge/internal/domain"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	var out, errOut bytes.Buffer
	var in io.Reader = strings.NewReader(stdin)
	code := execute(context.Background(), newRootCmd(), args, in, &out, &errOut)
	return cliResult{code: code, stdout: out.String(), stderr: errOut.String()}
}

func TestParseEnvAssignment(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		line      string
		wantKey   string
		wantValue string
		wantOK    bool
	}{
		"plain":          {line: "ARCA_EDGE_DOMAIN=example.com", wantKey: "ARCA_EDGE_DOMAIN", wantValue: "example.com", wantOK: true},
		"export":         {line: "export ARCA_EDGE_OTP=true", wantKey: "ARCA_EDGE_OTP", wantValue: "true", wantOK: true},
		"double quoted":  {line: `ARCA_EDGE_ACME_EMAIL="ops@example.com"`, wantKey: "ARCA_EDGE_ACME_EMAIL", wantValue: "ops@example.com", wantOK: true},
		"single quoted":  {line: "KEY='a b'", wantKey: "KEY", wantValue: "a b", wantOK: true},
		"empty value":    {line: "KEY=", wantKey: "KEY", wantValue: "", wantOK: true},
		"comment":        {line: "# ARCA_EDGE_DOMAIN=example.com"},
		"blank":          {line: "   "},
		"no equals":      {line: "ARCA_EDGE_DOMAIN"},
		"space in key":   {line: "BAD KEY=1"},
		"lone quote":     {line: `KEY="`, wantKey: "KEY", wantValue: `"`, wantOK: true},
		"value with eq":  {line: "KEY=a=b", wantKey: "KEY", wantValue: "a=b", wantOK: true},
		"padded":         {line: "  KEY = value  ", wantKey: "KEY", wantValue: "value", wantOK: true},
		"mismatched quo": {line: `KEY="value'`, wantKey: "KEY", wantValue: `"value'`, wantOK: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			key, value, ok := parseEnvAssignment(tc.line)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantKey, key)
			assert.Equal(t, tc.wantValue, value)
		})
	}
}

func TestLoadEdgeEnvFromDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := strings.Join([]string{
		"# generated",
		"ARCA_EDGE_DOMAIN=example.com",
		"ARCA_EDGE_LOG_LEVEL=debug",
		"OTHER_SETTING=ignored",
	}, "\r\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("ARCA_EDGE_DOMAIN", "")
	t.Setenv("ARCA_EDGE_LOG_LEVEL", "warn")
	t.Setenv("OTHER_SETTING", "")

	loadEdgeEnvFromDotEnv(path)

	assert.Equal(t, "example.com", os.Getenv("ARCA_EDGE_DOMAIN"))
	assert.Equal(t, "warn", os.Getenv("ARCA_EDGE_LOG_LEVEL"))
	assert.Empty(t, os.Getenv("OTHER_SETTING"))

	loadEdgeEnvFromDotEnv(filepath.Join(t.TempDir(), "missing.env"))
}

func TestKeygen(t *testing.T) {
	t.Parallel()

	res := runCLI(t, "", "keygen")
	require.Equal(t, 0, res.code, res.stderr)

	values := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(res.stdout), "\n") {
		key, value, ok := parseEnvAssignment(line)
		require.True(t, ok, line)
		values[key] = value
	}
	require.Len(t, values, 2)
	assert.GreaterOrEqual(t, len(values["ARCA_EDGE_SESSION_SECRET"]), 32)
	assert.GreaterOrEqual(t, len(values["ARCA_EDGE_ADMIN_KEY"]), 32)
	assert.NotEqual(t, values["ARCA_EDGE_SESSION_SECRET"], values["ARCA_EDGE_ADMIN_KEY"])

	short := runCLI(t, "", "keygen", "--bytes", "8")
	assert.Equal(t, 2, short.code)
	assert.Contains(t, short.stderr, "at least 32")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	res := runCLI(t, "", "version")
	require.Equal(t, 0, res.code)
	assert.True(t, strings.HasPrefix(res.stdout, "arca-edge "), res.stdout)
}

func TestUsageErrors(t *testing.T) {
	t.Setenv("ARCA_EDGE_DOMAIN", "")
	db := filepath.Join(t.TempDir(), "edge.db")

	tests := map[string]struct {
		args     []string
		wantCode int
		wantErr  string
	}{
		"missing username":    {args: []string{"customers", "get", "--db", db}, wantCode: 2, wantErr: "accepts 1 arg"},
		"unknown flag":        {args: []string{"keygen", "--nope"}, wantCode: 2, wantErr: "unknown flag"},
		"add without backend": {args: []string{"customers", "add", "alice", "--db", db}, wantCode: 2, wantErr: "missing --backend"},
		"serve without domain": {
			args:     []string{"serve", "--db", db},
			wantCode: 2,
			wantErr:  "missing --domain",
		},
		"bad backend url": {
			args:     []string{"customers", "add", "alice", "--backend", "ftp://x", "--db", db},
			wantCode: 1,
			wantErr:  "invalid backend url",
		},
		"unknown directory backend": {
			args:     []string{"customers", "list", "--directory-backend", "redis"},
			wantCode: 2,
			wantErr:  "unknown directory backend",
		},
		"remote login without key": {args: []string{"remote", "login", "--url", "https://example.com"}, wantCode: 2, wantErr: "missing --url or --admin-key"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res := runCLI(t, "", tc.args...)
			assert.Equal(t, tc.wantCode, res.code, res.stderr)
			assert.Contains(t, res.stderr, tc.wantErr)
		})
	}
}

func TestCustomersLocalLifecycle(t *testing.T) {
	t.Setenv(customerPasswordEnv, "")
	db := filepath.Join(t.TempDir(), "edge.db")
	local := func(args ...string) []string {
		return append(args, "--directory-backend", "sqlite", "--db", db)
	}

	add := runCLI(t, "", local("customers", "add", "Alice", "--backend", "http://10.0.0.7:3000/", "--display-name", "Alice A")...)
	require.Equal(t, 0, add.code, add.stderr)
	assert.Contains(t, add.stdout, "username: alice")
	assert.Contains(t, add.stdout, "backend_url: http://10.0.0.7:3000\n")
	assert.Contains(t, add.stdout, "version: 1")

	update := runCLI(t, "", local("customers", "add", "alice", "--backend", "http://10.0.0.8:3000", "--if-version", "1")...)
	require.Equal(t, 0, update.code, update.stderr)
	assert.Contains(t, update.stdout, "version: 2")

	stale := runCLI(t, "", local("customers", "add", "alice", "--backend", "http://10.0.0.9:3000", "--if-version", "1")...)
	assert.Equal(t, 1, stale.code)
	assert.Contains(t, stale.stderr, domain.ErrVersionConflict.Error())

	require.Equal(t, 0, runCLI(t, "", local("customers", "add", "bob", "--backend", "https://bob.internal")...).code)

	list := runCLI(t, "", local("customers", "list", "--json")...)
	require.Equal(t, 0, list.code, list.stderr)
	var got domain.CustomerListResponse
	require.NoError(t, json.Unmarshal([]byte(list.stdout), &got))
	require.Len(t, got.Customers, 2)
	assert.Equal(t, "alice", got.Customers[0].Username)
	assert.Equal(t, "http://10.0.0.8:3000", got.Customers[0].BackendURL)
	assert.Equal(t, "bob", got.Customers[1].Username)

	table := runCLI(t, "", local("customers", "list")...)
	require.Equal(t, 0, table.code)
	lines := strings.Split(strings.TrimSpace(table.stdout), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "USERNAME"))
	assert.True(t, strings.HasPrefix(lines[1], "alice"))

	setPw := runCLI(t, "", local("customers", "set-password", "alice", "--password", "correct-horse")...)
	require.Equal(t, 0, setPw.code, setPw.stderr)
	assert.Contains(t, setPw.stdout, "password set: alice")

	again := runCLI(t, "", local("customers", "set-password", "alice", "--password", "battery-staple")...)
	assert.Equal(t, 1, again.code)
	assert.Contains(t, again.stderr, domain.ErrCredentialExists.Error())

	piped := runCLI(t, "piped-password\n", local("customers", "set-password", "alice", "--replace")...)
	require.Equal(t, 0, piped.code, piped.stderr)

	noInput := runCLI(t, "", local("customers", "set-password", "bob")...)
	assert.Equal(t, 2, noInput.code)
	assert.Contains(t, noInput.stderr, "password required")

	weak := runCLI(t, "", local("customers", "set-password", "bob", "--password", "short")...)
	assert.Equal(t, 1, weak.code)

	rm := runCLI(t, "", local("customers", "remove", "alice")...)
	require.Equal(t, 0, rm.code, rm.stderr)
	assert.Contains(t, rm.stdout, "removed: alice")

	gone := runCLI(t, "", local("customers", "get", "alice")...)
	assert.Equal(t, 1, gone.code)
	assert.Contains(t, gone.stderr, domain.ErrNotFound.Error())
}

func TestCustomersOtherBackends(t *testing.T) {
	dir := t.TempDir()
	tests := map[string][]string{
		"bbolt": {"--directory-backend", "bbolt", "--bolt", filepath.Join(dir, "edge.bolt")},
		"file":  {"--directory-backend", "file", "--directory-file", filepath.Join(dir, "directory.json")},
	}

	for name, flags := range tests {
		t.Run(name, func(t *testing.T) {
			args := append([]string{"customers", "add", "carol", "--backend", "http://10.0.0.9:8080"}, flags...)
			add := runCLI(t, "", args...)
			require.Equal(t, 0, add.code, add.stderr)

			get := runCLI(t, "", append([]string{"customers", "get", "carol", "--json"}, flags...)...)
			require.Equal(t, 0, get.code, get.stderr)
			var m domain.CustomerMapping
			require.NoError(t, json.Unmarshal([]byte(get.stdout), &m))
			assert.Equal(t, "http://10.0.0.9:8080", m.BackendURL)
			assert.EqualValues(t, 1, m.Version)
		})
	}

	noCreds := runCLI(t, "", "customers", "set-password", "carol", "--password", "correct-horse",
		"--directory-backend", "file", "--directory-file", filepath.Join(dir, "directory.json"))
	assert.Equal(t, 2, noCreds.code)
	assert.Contains(t, noCreds.stderr, "does not store credentials")
}
