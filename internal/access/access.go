// Package access names the cookie and form fields of the customer sign-in
// flow and holds the small request helpers shared by its handlers.
package access

import (
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/koltyakov/arca-edge/internal/netutil"
)

const (
	// CookieName carries the edge session token on customer hosts. It is
	// stripped before requests reach a backend.
	CookieName = "edge_session"

	FormPasswordField  = "password"
	FormNextField      = "next"
	FormChallengeField = "challenge"
	FormCodeField      = "code"
)

// SessionCookie returns the cookie that stores tok for ttl.
func SessionCookie(tok string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(ttl / time.Second),
	}
}

// ClearedCookie expires the session cookie.
func ClearedCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}

// RedirectTarget returns raw when it is a same-origin absolute path and
// fallback otherwise.
func RedirectTarget(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return fallback
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u == nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.RequestURI()
}

// CurrentTarget is the request's own path and query, sanitized for use as a
// post-login redirect.
func CurrentTarget(r *http.Request) string {
	if r == nil || r.URL == nil {
		return "/"
	}
	return RedirectTarget(r.URL.RequestURI(), "/")
}

// IsFormSubmission reports whether r is a POST of an urlencoded HTML form.
func IsFormSubmission(r *http.Request) bool {
	if r == nil || r.Method != http.MethodPost {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded"
}

// WantsHTML reports whether r is a browser navigation that should see an
// HTML page rather than a JSON error.
func WantsHTML(r *http.Request) bool {
	if r == nil || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/html")
}

// StripSessionCookie removes the session cookie from outbound headers.
func StripSessionCookie(h http.Header) {
	netutil.StripCookie(h, CookieName)
}
