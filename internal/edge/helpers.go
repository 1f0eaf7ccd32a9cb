package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koltyakov/arca-edge/internal/domain"
	"github.com/koltyakov/arca-edge/internal/netutil"
)

var errUnauthorized = fmt.Errorf("%w: sign in required", domain.ErrUnauthorized)

type requestIDKey struct{}

// withRequestID stamps every request with a fresh X-Request-ID, echoed to
// the caller and forwarded to backends.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		r.Header.Set(requestIDHeader, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// statusFor maps an error to the HTTP status the edge and admin API answer
// with.
func statusFor(err error) int {
	switch domain.ErrorCode(err) {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeVersionConflict, domain.CodeCredentialExists:
		return http.StatusConflict
	case domain.CodeInvalidUsername, domain.CodeInvalidBackend:
		return http.StatusBadRequest
	case domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

// writeError answers with an [domain.ErrorResponse]. Internal errors never
// leak their text.
func writeError(w http.ResponseWriter, status int, err error) {
	code := domain.ErrorCode(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, domain.ErrorResponse{Error: msg, ErrorCode: code})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: msg, ErrorCode: domain.CodeBadRequest})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return err
	}
	return nil
}

// setForwardedHeaders overwrites the X-Forwarded-* family on out to describe
// the public request in. Inbound values are kept only when the direct peer
// is a trusted proxy.
func setForwardedHeaders(out http.Header, in *http.Request, trusted netutil.TrustedProxies) {
	peer := in.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	fromTrusted := trusted.Contains(peer)

	chain := ""
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	if fromTrusted {
		chain = strings.TrimSpace(strings.Join(in.Header.Values("X-Forwarded-For"), ", "))
		if p := strings.ToLower(strings.TrimSpace(in.Header.Get("X-Forwarded-Proto"))); p == "https" || p == "http" {
			proto = p
		}
	}
	if peer != "" {
		if chain != "" {
			chain += ", " + peer
		} else {
			chain = peer
		}
	}

	for _, k := range []string{"X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto", "X-Forwarded-Port", "X-Forwarded-Ssl", "Forwarded", "X-Real-Ip"} {
		out.Del(k)
	}
	if chain != "" {
		out.Set("X-Forwarded-For", chain)
	}
	host := strings.TrimSpace(in.Host)
	out.Set("X-Forwarded-Host", host)
	out.Set("X-Forwarded-Proto", proto)
	port := ""
	if _, p, err := net.SplitHostPort(host); err == nil {
		port = p
	}
	if port == "" {
		port = netutil.HostPort(proto, "")
	}
	out.Set("X-Forwarded-Port", port)
	if proto == "https" {
		out.Set("X-Forwarded-Ssl", "on")
	}
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// waitGroupWait blocks until wg reaches zero or timeout elapses.
// Returns false if the timeout fired before all goroutines finished.
func waitGroupWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
