// Package netutil provides shared HTTP/network normalization helpers used by
// the edge proxy.
package netutil

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"
)

var hopByHopHeaderNames = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NormalizeHost lower-cases and strips ports/trailing dots from host values.
func NormalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return ""
	}

	if h, p, err := net.SplitHostPort(host); err == nil && p != "" {
		host = h
	} else if strings.Count(host, ":") == 1 {
		left, right, ok := strings.Cut(host, ":")
		if ok && isDigits(right) {
			host = left
		}
	}

	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return strings.TrimSuffix(host, ".")
}

// RemoveHopByHopHeadersPreserveUpgrade strips hop-by-hop headers while
// preserving websocket upgrade headers when present.
func RemoveHopByHopHeadersPreserveUpgrade(h http.Header) {
	removeHopByHopHeaders(h, ShouldPreserveUpgradeHeaders(h))
}

// ShouldPreserveUpgradeHeaders reports whether the header map indicates an
// HTTP Upgrade handshake that requires preserving Connection/Upgrade headers.
func ShouldPreserveUpgradeHeaders(h http.Header) bool {
	if len(h) == 0 || strings.TrimSpace(h.Get("Upgrade")) == "" {
		return false
	}
	for _, connectionValue := range h.Values("Connection") {
		for _, token := range strings.Split(connectionValue, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}

func removeHopByHopHeaders(h http.Header, preserveUpgrade bool) {
	if len(h) == 0 {
		return
	}

	for _, connectionValue := range h.Values("Connection") {
		for _, token := range strings.Split(connectionValue, ",") {
			key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(token))
			if key != "" {
				if preserveUpgrade && strings.EqualFold(key, "Upgrade") {
					continue
				}
				h.Del(key)
			}
		}
	}

	for _, key := range hopByHopHeaderNames {
		if preserveUpgrade && (key == "Connection" || key == "Upgrade") {
			continue
		}
		h.Del(key)
	}

	if preserveUpgrade {
		h.Set("Connection", "Upgrade")
	}
}

// IsUpgradeRequest reports whether r asks for a protocol upgrade
// (websocket and friends) that must be spliced rather than proxied.
func IsUpgradeRequest(r *http.Request) bool {
	return r != nil && ShouldPreserveUpgradeHeaders(r.Header)
}

// StripCookie removes every cookie called name from the Cookie headers in h,
// dropping headers that end up empty.
func StripCookie(h http.Header, name string) {
	values := h.Values("Cookie")
	if len(values) == 0 {
		return
	}

	filtered := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := stripCookieValue(value, name); trimmed != "" {
			filtered = append(filtered, trimmed)
		}
	}

	h.Del("Cookie")
	for _, value := range filtered {
		h.Add("Cookie", value)
	}
}

func stripCookieValue(headerValue, cookieName string) string {
	parts := strings.Split(headerValue, ";")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, _, ok := strings.Cut(part, "=")
		if ok && strings.TrimSpace(name) == cookieName {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "; ")
}

// HostPort returns the port of a URL host, falling back to the scheme
// default.
func HostPort(scheme, host string) string {
	if _, p, err := net.SplitHostPort(host); err == nil && p != "" {
		return p
	}
	if scheme == "https" || scheme == "wss" {
		return "443"
	}
	return "80"
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
