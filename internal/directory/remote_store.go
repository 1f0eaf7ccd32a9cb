package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/koltyakov/arca-edge/internal/domain"
)

// RemoteStore reads and writes the directory through the admin API of
// another edge instance. It lets several edges share one authoritative
// directory, and lets the CLI manage a running deployment.
type RemoteStore struct {
	baseURL  string
	adminKey string
	client   *http.Client
}

// NewRemoteStore returns a store that talks to the edge at baseURL. A nil
// client gets one with a 10s timeout.
func NewRemoteStore(baseURL, adminKey string, client *http.Client) (*RemoteStore, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: remote directory url %q", domain.ErrConfig, baseURL)
	}
	if adminKey == "" {
		return nil, fmt.Errorf("%w: remote directory needs an admin key", domain.ErrConfig)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteStore{
		baseURL:  strings.TrimSuffix(u.String(), "/"),
		adminKey: adminKey,
		client:   client,
	}, nil
}

// RemoteError is a non-2xx answer from the remote admin API. It unwraps to
// the domain sentinel matching its error code, when there is one.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote directory: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("remote directory: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	if err := domain.SentinelForCode(e.Code); err != nil {
		return err
	}
	switch {
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case e.StatusCode >= 500:
		return domain.ErrBackendUnavailable
	}
	return nil
}

func (s *RemoteStore) GetCustomer(ctx context.Context, username string) (domain.CustomerMapping, error) {
	var out domain.CustomerMapping
	err := s.do(ctx, http.MethodGet, customerPath(username), nil, nil, &out)
	return out, err
}

func (s *RemoteStore) PutCustomer(ctx context.Context, m domain.CustomerMapping, expectedVersion int64) (domain.CustomerMapping, error) {
	hdr := http.Header{}
	if expectedVersion > 0 {
		hdr.Set("If-Match", strconv.FormatInt(expectedVersion, 10))
	}
	body := domain.UpsertCustomerRequest{BackendURL: m.BackendURL, DisplayName: m.DisplayName}
	var out domain.CustomerMapping
	err := s.do(ctx, http.MethodPut, customerPath(m.Username), hdr, body, &out)
	return out, err
}

func (s *RemoteStore) DeleteCustomer(ctx context.Context, username string) error {
	return s.do(ctx, http.MethodDelete, customerPath(username), nil, nil, nil)
}

func (s *RemoteStore) ListCustomers(ctx context.Context) ([]domain.CustomerMapping, error) {
	var out domain.CustomerListResponse
	if err := s.do(ctx, http.MethodGet, "/v1/customers", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Customers, nil
}

// SetPassword sets a customer's password on the remote edge. The password
// is hashed there, so RemoteStore is not a [CredentialStore].
func (s *RemoteStore) SetPassword(ctx context.Context, username, password string, replace bool) error {
	body := domain.SetPasswordRequest{Password: password, Replace: replace}
	return s.do(ctx, http.MethodPut, customerPath(username)+"/password", nil, body, nil)
}

func customerPath(username string) string {
	return "/v1/customers/" + url.PathEscape(username)
}

func (s *RemoteStore) do(ctx context.Context, method, path string, hdr http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	for k, vs := range hdr {
		req.Header[k] = vs
	}
	req.Header.Set("Authorization", "Bearer "+s.adminKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		re := &RemoteError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		var errResp domain.ErrorResponse
		if json.Unmarshal(b, &errResp) == nil && errResp.Error != "" {
			re.Message = errResp.Error
			re.Code = errResp.ErrorCode
		}
		return re
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode remote directory response: %w", err)
	}
	return nil
}
