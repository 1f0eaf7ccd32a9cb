package domain

import (
	"fmt"
	"net/url"
	"strings"
)

const maxUsernameLength = 63

// NormalizeUsername lower-cases and trims a username. All lookups and writes
// go through it, so usernames are matched case-insensitively.
func NormalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidateUsername reports whether name (already normalized) is a single DNS
// label: 1-63 chars of [a-z0-9-], not starting or ending with a hyphen.
func ValidateUsername(name string) error {
	if name == "" || len(name) > maxUsernameLength {
		return ErrInvalidUsername
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' && i > 0 && i < len(name)-1:
		default:
			return ErrInvalidUsername
		}
	}
	return nil
}

// SanitizeUsername keeps only characters allowed in a username and caps the
// length. The result is safe to echo into HTML and headers.
func SanitizeUsername(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw) && b.Len() < maxUsernameLength; i++ {
		c := raw[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ParseBackendURL validates a backend base URL and returns it with any
// trailing slash removed from the path.
func ParseBackendURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackend, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https", ErrInvalidBackend)
	}
	if u.Host == "" || u.User != nil {
		return nil, fmt.Errorf("%w: host required, userinfo not allowed", ErrInvalidBackend)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("%w: query and fragment not allowed", ErrInvalidBackend)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u, nil
}

// Validate normalizes m in place and checks its username and backend URL.
func (m *CustomerMapping) Validate() error {
	m.Username = NormalizeUsername(m.Username)
	if err := ValidateUsername(m.Username); err != nil {
		return err
	}
	u, err := ParseBackendURL(m.BackendURL)
	if err != nil {
		return err
	}
	m.BackendURL = u.String()
	m.DisplayName = strings.TrimSpace(m.DisplayName)
	return nil
}
