package edge

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/arca-edge/internal/directory"
	"github.com/koltyakov/arca-edge/internal/domain"
)

func TestAdminAPIThroughRemoteStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	remote, err := directory.NewRemoteStore(f.ts.URL, testAdminKey, f.ts.Client())
	require.NoError(t, err)
	ctx := context.Background()

	m, err := remote.PutCustomer(ctx, domain.CustomerMapping{Username: "Bob", BackendURL: "http://10.0.0.5:3000/"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "bob", m.Username)
	assert.Equal(t, "http://10.0.0.5:3000", m.BackendURL)
	assert.EqualValues(t, 1, m.Version)

	_, err = remote.PutCustomer(ctx, domain.CustomerMapping{Username: "bob", BackendURL: "http://10.0.0.6:3000"}, 7)
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	m, err = remote.PutCustomer(ctx, domain.CustomerMapping{Username: "bob", BackendURL: "http://10.0.0.6:3000"}, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, m.Version)

	_, err = remote.PutCustomer(ctx, domain.CustomerMapping{Username: "bad_name", BackendURL: "http://10.0.0.6:3000"}, 0)
	require.ErrorIs(t, err, domain.ErrInvalidUsername)
	_, err = remote.PutCustomer(ctx, domain.CustomerMapping{Username: "carol", BackendURL: "ftp://10.0.0.6"}, 0)
	require.ErrorIs(t, err, domain.ErrInvalidBackend)

	got, err := remote.GetCustomer(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.6:3000", got.BackendURL)

	list, err := remote.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.Error(t, remote.SetPassword(ctx, "bob", "short", false))
	require.NoError(t, remote.SetPassword(ctx, "bob", testPassword, false))
	require.ErrorIs(t, remote.SetPassword(ctx, "bob", testPassword, false), domain.ErrCredentialExists)
	require.NoError(t, remote.SetPassword(ctx, "bob", testPassword+"!", true))

	ok, err := f.dir.VerifyPassword(ctx, "bob", testPassword+"!")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, remote.DeleteCustomer(ctx, "bob"))
	_, err = remote.GetCustomer(ctx, "bob")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, remote.DeleteCustomer(ctx, "bob"), domain.ErrNotFound)
}

func TestAdminAPIRejectsBadKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	remote, err := directory.NewRemoteStore(f.ts.URL, "not-the-key", f.ts.Client())
	require.NoError(t, err)

	_, err = remote.ListCustomers(context.Background())
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	resp := f.do(t, http.MethodGet, "example.com", "/v1/customers", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminAPIValidatesRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	auth := map[string]string{"Authorization": "Bearer " + testAdminKey}

	resp := f.do(t, http.MethodPut, "example.com", "/v1/customers/bob", strings.NewReader(`{"backend_url":"http://10.0.0.5"`), auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	hdr := map[string]string{"Authorization": "Bearer " + testAdminKey, "If-Match": "v-one"}
	resp = f.do(t, http.MethodPut, "example.com", "/v1/customers/bob", strings.NewReader(`{"backend_url":"http://10.0.0.5"}`), hdr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "example.com", "/v1/customers/bob", strings.NewReader(`{"backend_url":"http://10.0.0.5"}`), auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"1"`, resp.Header.Get("ETag"))

	hdr["If-Match"] = `W/"1"`
	resp = f.do(t, http.MethodPut, "example.com", "/v1/customers/bob", strings.NewReader(`{"backend_url":"http://10.0.0.7"}`), hdr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"2"`, resp.Header.Get("ETag"))
}

func TestParseIfMatch(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		raw     string
		want    int64
		wantErr bool
	}{
		"absent":   {raw: ""},
		"wildcard": {raw: "*"},
		"bare":     {raw: "3", want: 3},
		"quoted":   {raw: `"4"`, want: 4},
		"weak":     {raw: `W/"5"`, want: 5},
		"garbage":  {raw: "abc", wantErr: true},
		"negative": {raw: "-1", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := parseIfMatch(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
