package waf

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

const (
	maxURILength   = 8192
	maxHeaderCount = 64
)

// skipHeaders are not matched: browsers control them, or their values are
// opaque tokens (session cookies, bearer tokens) that trip the hex and
// comment patterns.
var skipHeaders = map[string]struct{}{
	"host":                     {},
	"accept":                   {},
	"accept-language":          {},
	"accept-encoding":          {},
	"authorization":            {},
	"cache-control":            {},
	"connection":               {},
	"content-length":           {},
	"content-type":             {},
	"cookie":                   {},
	"if-modified-since":        {},
	"if-match":                 {},
	"if-none-match":            {},
	"upgrade":                  {},
	"sec-websocket-key":        {},
	"sec-websocket-version":    {},
	"sec-websocket-extensions": {},
	"sec-websocket-protocol":   {},
	"sec-fetch-dest":           {},
	"sec-fetch-mode":           {},
	"sec-fetch-site":           {},
	"sec-fetch-user":           {},
	"sec-ch-ua":                {},
	"sec-ch-ua-mobile":         {},
	"sec-ch-ua-platform":       {},
}

// requestView is the normalized request a rule set runs against.
type requestView struct {
	requestURI string
	path       string
	// queries holds the raw query plus its decoded variants: single pass,
	// plus-as-space and a second pass for double encoding.
	queries      []string
	userAgent    string
	headerValues []string
}

func newRequestView(r *http.Request) requestView {
	raw := r.URL.RawQuery
	v := requestView{
		requestURI: r.RequestURI,
		path:       r.URL.Path,
		userAgent:  r.UserAgent(),
	}
	if raw != "" {
		v.queries = appendDistinct(v.queries, raw)
		once := raw
		if d, err := url.QueryUnescape(raw); err == nil {
			once = d
			v.queries = appendDistinct(v.queries, once)
		}
		v.queries = appendDistinct(v.queries, strings.ReplaceAll(raw, "+", " "))
		if strings.Contains(once, "%") {
			if twice, err := url.QueryUnescape(once); err == nil {
				v.queries = appendDistinct(v.queries, twice)
			}
		}
	}
	for name, values := range r.Header {
		if _, skip := skipHeaders[strings.ToLower(name)]; skip {
			continue
		}
		v.headerValues = append(v.headerValues, values...)
	}
	return v
}

func appendDistinct(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}

// Check runs the rule set against r and returns the first matching rule.
// Oversized URIs and header floods match before any pattern is tried.
func (f *Filter) Check(r *http.Request) (string, bool) {
	v := newRequestView(r)
	if len(v.requestURI) > maxURILength {
		return "uri-too-long", true
	}
	if len(v.headerValues) > maxHeaderCount {
		return "too-many-headers", true
	}

	for i := range f.rules {
		rl := &f.rules[i]
		switch {
		case rl.targets&targetURI != 0 && rl.pattern.MatchString(v.requestURI),
			rl.targets&targetPath != 0 && matchPath(rl, v.path),
			rl.targets&targetQuery != 0 && slices.ContainsFunc(v.queries, rl.pattern.MatchString),
			rl.targets&targetUA != 0 && v.userAgent != "" && rl.pattern.MatchString(v.userAgent),
			rl.targets&targetHeaders != 0 && slices.ContainsFunc(v.headerValues, rl.pattern.MatchString):
			return rl.name, true
		}
	}
	return "", false
}

// matchPath lets ACME and other /.well-known paths through the probe rule.
func matchPath(rl *rule, path string) bool {
	if rl.name == "sensitive-file-probe" && (path == "/.well-known" || strings.HasPrefix(path, "/.well-known/")) {
		return false
	}
	return rl.pattern.MatchString(path)
}
