package edge

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/access"
	"github.com/koltyakov/arca-edge/internal/log"
	"github.com/koltyakov/arca-edge/internal/netutil"
	"github.com/koltyakov/arca-edge/internal/token"
)

// grant is an authenticated request. viaBearer is set when the session came
// from the Authorization header, which the edge then consumes.
type grant struct {
	session   token.Session
	viaBearer bool
}

// sessionToken extracts the edge session token, preferring the cookie.
func sessionToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(access.CookieName); err == nil && c.Value != "" {
		return c.Value, false
	}
	scheme, value, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		if value = strings.TrimSpace(value); value != "" {
			return value, true
		}
	}
	return "", false
}

// authenticate checks the session for username. In open mode every request
// passes. When refresh is set, cookie sessions past half their lifetime get
// a new cookie on w.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, username string, refresh bool) (grant, bool) {
	if !s.gated {
		return grant{}, true
	}
	tok, viaBearer := sessionToken(r)
	if tok == "" {
		return grant{}, false
	}
	sess, err := s.codec.VerifySession(tok)
	if err != nil {
		fields := []zap.Field{log.Username(username), log.RemoteIP(netutil.ClientIP(r, s.trusted)), zap.Error(err)}
		if errors.Is(err, token.ErrExpired) {
			s.log.Debug("session expired", fields...)
		} else {
			s.log.Warn("session token rejected", fields...)
		}
		return grant{}, false
	}
	if sess.Subject != username {
		s.log.Warn("session presented for another customer",
			log.Username(username), zap.String("subject", sess.Subject),
			log.RemoteIP(netutil.ClientIP(r, s.trusted)))
		return grant{}, false
	}
	if refresh && !viaBearer {
		s.maybeRefresh(w, sess)
	}
	return grant{session: sess, viaBearer: viaBearer}, true
}

func (s *Server) maybeRefresh(w http.ResponseWriter, sess token.Session) {
	ttl := s.codec.SessionTTL()
	if sess.ExpiresAt.Sub(s.now()) > ttl/2 {
		return
	}
	tok, _, err := s.codec.IssueSession(sess.Subject)
	if err != nil {
		s.log.Error("session refresh failed", log.Username(sess.Subject), zap.Error(err))
		return
	}
	http.SetCookie(w, access.SessionCookie(tok, ttl, s.cfg.CookieSecure))
}

func (s *Server) writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	if access.WantsHTML(r) {
		writeLoginPage(w, r, loginPageState{Next: access.CurrentTarget(r)}, http.StatusUnauthorized)
		return
	}
	writeError(w, http.StatusUnauthorized, errUnauthorized)
}
