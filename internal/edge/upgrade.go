package edge

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/access"
	"github.com/koltyakov/arca-edge/internal/log"
	"github.com/koltyakov/arca-edge/internal/metrics"
	"github.com/koltyakov/arca-edge/internal/netutil"
)

// serveUpgrade splices a protocol upgrade (websocket and friends) straight
// to the backend. The session is checked before anything is dialed.
func (s *Server) serveUpgrade(w http.ResponseWriter, r *http.Request, username string, target *url.URL) {
	g, ok := s.authenticate(w, r, username, false)
	if !ok {
		s.metrics.Request(metrics.OutcomeUnauthorized)
		rejectUpgrade(w, http.StatusUnauthorized)
		return
	}

	start := s.now()
	upstream, err := s.dialBackend(r.Context(), target)
	if err != nil {
		s.log.Warn("upgrade dial failed",
			log.Username(username), log.Host(r.Host), log.Target(target.String()),
			log.RequestID(requestIDFrom(r.Context())), zap.Error(err))
		s.metrics.Request(metrics.OutcomeUnavailable)
		writeUnavailablePage(w, r)
		return
	}
	s.metrics.ObserveUpstream("upgrade", s.now().Sub(start))

	client, brw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		_ = upstream.Close()
		s.log.Error("upgrade hijack failed", log.Username(username), zap.Error(err))
		writeUnavailablePage(w, r)
		return
	}

	if _, err := upstream.Write(upgradeRequestHead(r, target, g.viaBearer, s.trusted)); err != nil {
		_ = upstream.Close()
		_ = client.Close()
		s.log.Warn("upgrade request replay failed", log.Username(username), log.Target(target.String()), zap.Error(err))
		return
	}

	s.upgrades.track(client, upstream)
	defer s.upgrades.untrack(client, upstream)
	s.metrics.Request(metrics.OutcomeUpgraded)
	s.metrics.UpgradeOpened()
	defer s.metrics.UpgradeClosed()

	s.log.Debug("upgrade spliced", log.Username(username), log.Target(target.String()))
	splice(client, brw.Reader, upstream)
}

// rejectUpgrade answers on the raw connection and closes it.
func rejectUpgrade(w http.ResponseWriter, status int) {
	conn, _, err := http.NewResponseController(w).Hijack()
	if err != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer func() { _ = conn.Close() }()
	_, _ = fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nConnection: close\r\nContent-Length: 0\r\n\r\n", status, http.StatusText(status))
}

func (s *Server) dialBackend(ctx context.Context, target *url.URL) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.dialer.Timeout)
	defer cancel()
	addr := net.JoinHostPort(target.Hostname(), netutil.HostPort(target.Scheme, target.Host))
	if target.Scheme == "https" {
		d := &tls.Dialer{
			NetDialer: s.dialer,
			Config: &tls.Config{
				ServerName: target.Hostname(),
				MinVersion: tls.VersionTLS12,
				NextProtos: []string{"http/1.1"},
			},
		}
		return d.DialContext(ctx, "tcp", addr)
	}
	return s.dialer.DialContext(ctx, "tcp", addr)
}

// upgradeRequestHead replays the client's request line and headers for the
// backend: same path and query under the backend base, backend Host, no edge
// session cookie.
func upgradeRequestHead(r *http.Request, target *url.URL, stripAuth bool, trusted netutil.TrustedProxies) []byte {
	h := r.Header.Clone()
	netutil.RemoveHopByHopHeadersPreserveUpgrade(h)
	setForwardedHeaders(h, r, trusted)
	h.Set("X-Forwarded-Proto", "https")
	h.Set("X-Forwarded-Ssl", "on")
	access.StripSessionCookie(h)
	if stripAuth {
		h.Del("Authorization")
	}

	uri := strings.TrimSuffix(target.EscapedPath(), "/") + r.URL.EscapedPath()
	if uri == "" {
		uri = "/"
	}
	if r.URL.RawQuery != "" {
		uri += "?" + r.URL.RawQuery
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\nHost: %s\r\n", r.Method, uri, target.Host)
	_ = h.Write(&b)
	b.WriteString("\r\n")
	return b.Bytes()
}

// splice copies both directions until either side closes, then closes
// both. Bytes the server already buffered from the client go first.
func splice(client net.Conn, clientBuf *bufio.Reader, upstream net.Conn) {
	var once sync.Once
	closeBoth := func() {
		_ = client.Close()
		_ = upstream.Close()
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(upstream, clientBuf)
		once.Do(closeBoth)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(client, upstream)
		once.Do(closeBoth)
	}()
	wg.Wait()
}
