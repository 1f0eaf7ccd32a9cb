package edge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/access"
	"github.com/koltyakov/arca-edge/internal/log"
	"github.com/koltyakov/arca-edge/internal/metrics"
)

// proxyTarget is where one request is forwarded. An empty username means
// the default upstream.
type proxyTarget struct {
	username  string
	url       *url.URL
	stripAuth bool
	start     time.Time
}

type proxyTargetKey struct{}

func (s *Server) newReverseProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite:        s.rewrite,
		Transport:      s.transport,
		ModifyResponse: s.modifyResponse,
		ErrorHandler:   s.proxyError,
		ErrorLog:       zap.NewStdLog(s.log.With(log.Component("reverse_proxy"))),
	}
}

// forward proxies r to t. The response is mirrored verbatim apart from the
// marker header.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, t *proxyTarget) {
	t.start = s.now()
	ctx := context.WithValue(r.Context(), proxyTargetKey{}, t)
	s.proxy.ServeHTTP(w, r.WithContext(ctx))
}

func targetFrom(ctx context.Context) *proxyTarget {
	t, _ := ctx.Value(proxyTargetKey{}).(*proxyTarget)
	return t
}

// rewrite keeps the original path and query under the backend base URL and
// sends the backend its own Host.
func (s *Server) rewrite(pr *httputil.ProxyRequest) {
	t := targetFrom(pr.In.Context())
	pr.SetURL(t.url)
	setForwardedHeaders(pr.Out.Header, pr.In, s.trusted)

	if pr.In.Method == http.MethodGet || pr.In.Method == http.MethodHead {
		pr.Out.Body = nil
		pr.Out.GetBody = nil
		pr.Out.ContentLength = 0
		pr.Out.Header.Del("Content-Length")
		pr.Out.Header.Del("Transfer-Encoding")
	}
	access.StripSessionCookie(pr.Out.Header)
	if t.stripAuth {
		pr.Out.Header.Del("Authorization")
	}
}

func (s *Server) modifyResponse(resp *http.Response) error {
	resp.Header.Set(markerHeader, markerValue)
	if t := targetFrom(resp.Request.Context()); t != nil {
		s.metrics.ObserveUpstream("http", s.now().Sub(t.start))
	}
	s.metrics.Request(metrics.OutcomeProxied)
	return nil
}

// proxyError answers transport failures with the 503 page. The cause is
// logged, never shown.
func (s *Server) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	t := targetFrom(r.Context())
	fields := []zap.Field{
		log.Host(r.Host),
		log.Method(r.Method),
		log.Path(r.URL.Path),
		log.RequestID(requestIDFrom(r.Context())),
		zap.Error(err),
	}
	if t != nil {
		fields = append(fields, log.Username(t.username), log.Target(t.url.String()))
	}
	if errors.Is(err, context.Canceled) {
		s.log.Debug("client went away during upstream request", fields...)
		return
	}
	s.log.Warn("upstream request failed", fields...)
	s.metrics.Request(metrics.OutcomeUnavailable)
	writeUnavailablePage(w, r)
}
