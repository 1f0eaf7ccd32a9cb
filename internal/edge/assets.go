package edge

import (
	"net/http"
	"path"
	"strings"
)

// serveAsset serves r from the local assets directory when the path names
// a regular file there. It reports whether the request was answered.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request) bool {
	if s.assets == nil || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		return false
	}
	if containsDotDot(r.URL.Path) {
		writeBadRequest(w, "invalid path")
		return true
	}
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		return false
	}
	f, err := s.assets.Open(name)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

func containsDotDot(p string) bool {
	if !strings.Contains(p, "..") {
		return false
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}
