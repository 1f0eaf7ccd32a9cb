package edge

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/koltyakov/arca-edge/internal/access"
	"github.com/koltyakov/arca-edge/internal/auth"
	"github.com/koltyakov/arca-edge/internal/domain"
	"github.com/koltyakov/arca-edge/internal/log"
	"github.com/koltyakov/arca-edge/internal/netutil"
	"github.com/koltyakov/arca-edge/internal/ratelimit"
)

const (
	stepLogin  = "login"
	stepVerify = "verify"

	otpCodeDigits = 6
)

// serveEntryPoint handles the reserved /__edge/ paths on a customer host.
// Sign-in entry points only exist in gated mode.
func (s *Server) serveEntryPoint(w http.ResponseWriter, r *http.Request, username string) {
	if !s.gated {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: sign-in is disabled", domain.ErrNotFound))
		return
	}
	switch name := strings.TrimPrefix(r.URL.Path, entryPrefix); name {
	case "login":
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		s.handleLogin(w, r, username)
	case "verify":
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		s.handleVerify(w, r, username)
	case "logout":
		if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		http.SetCookie(w, access.ClearedCookie(s.cfg.CookieSecure))
		http.Redirect(w, r, "/", http.StatusFound)
	case "session":
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		g, ok := s.authenticate(w, r, username, false)
		if !ok {
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, domain.SessionResponse{
			Username:  g.session.Subject,
			ExpiresAt: g.session.ExpiresAt,
		})
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: unknown entry point %q", domain.ErrNotFound, name))
	}
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, domain.ErrorResponse{
		Error:     "method not allowed",
		ErrorCode: domain.CodeBadRequest,
	})
	return false
}

// checkAttempt consumes one attempt for step from the caller's address. It
// writes the response and returns false when the request must stop here.
func (s *Server) checkAttempt(w http.ResponseWriter, r *http.Request, step, username string) (string, bool) {
	ip := netutil.ClientIP(r, s.trusted)
	key := step + ":" + ip
	res, err := s.limiter.Check(r.Context(), key)
	if err != nil {
		s.log.Error("rate limiter unavailable", log.Username(username), log.RemoteIP(ip), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return key, false
	}
	if !res.Allowed {
		s.metrics.LoginAttempt(step, "rate_limited")
		s.log.Warn("sign-in rate limited", zap.String("step", step), log.Username(username), log.RemoteIP(ip))
		writeRateLimited(w, res)
		return key, false
	}
	return key, true
}

func writeRateLimited(w http.ResponseWriter, res ratelimit.Result) {
	secs := int(math.Ceil(res.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	minutes := (secs + 59) / 60
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, domain.ErrorResponse{
		Error:      fmt.Sprintf("Too many login attempts. Please try again in %d %s.", minutes, unit),
		ErrorCode:  domain.CodeRateLimited,
		RetryAfter: secs,
	})
}

func (s *Server) resetAttempts(ctx context.Context, key string) {
	if err := s.limiter.Reset(ctx, key); err != nil {
		s.log.Warn("rate limit reset failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, username string) {
	form := access.IsFormSubmission(r)
	key, ok := s.checkAttempt(w, r, stepLogin, username)
	if !ok {
		return
	}

	var password, next string
	if form {
		r.Body = http.MaxBytesReader(w, r.Body, maxEntryBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeBadRequest(w, "invalid sign-in form")
			return
		}
		password = r.PostForm.Get(access.FormPasswordField)
		next = access.RedirectTarget(r.PostForm.Get(access.FormNextField), "/")
	} else {
		var req domain.LoginRequest
		if err := decodeJSONBody(w, r, maxEntryBodyBytes, &req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
		password = req.Password
	}

	ip := netutil.ClientIP(r, s.trusted)
	valid, err := s.dir.VerifyPassword(r.Context(), username, password)
	if err != nil {
		s.log.Error("password check failed", log.Username(username), zap.Error(err))
		s.metrics.LoginAttempt(stepLogin, "error")
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if !valid {
		s.metrics.LoginAttempt(stepLogin, "failure")
		s.log.Warn("sign-in rejected", log.Username(username), log.RemoteIP(ip))
		if form {
			writeLoginPage(w, r, loginPageState{Next: next, ErrorText: "Incorrect password."}, http.StatusUnauthorized)
			return
		}
		writeError(w, http.StatusUnauthorized, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized))
		return
	}
	s.resetAttempts(r.Context(), key)

	if s.cfg.OTPEnabled {
		s.startChallenge(w, r, username, form, next)
		return
	}
	s.metrics.LoginAttempt(stepLogin, "success")
	s.log.Info("customer signed in", log.Username(username), log.RemoteIP(ip))
	s.issueSession(w, r, username, form, next)
}

func (s *Server) startChallenge(w http.ResponseWriter, r *http.Request, username string, form bool, next string) {
	code, err := auth.GenerateCode(otpCodeDigits)
	if err != nil {
		s.log.Error("one-time code generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	challenge, expiresAt, err := s.codec.IssueChallenge(username, code)
	if err != nil {
		s.log.Error("challenge issue failed", log.Username(username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.sender.SendCode(r.Context(), username, code); err != nil {
		s.metrics.LoginAttempt(stepLogin, "error")
		s.log.Error("one-time code delivery failed", log.Username(username), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.metrics.LoginAttempt(stepLogin, "challenge")
	if form {
		writeVerifyPage(w, r, verifyPageState{Challenge: challenge, Next: next}, http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, domain.LoginResponse{
		Success:   true,
		Challenge: challenge,
		ExpiresAt: expiresAt.UTC(),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, username string) {
	if !s.cfg.OTPEnabled {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: one-time codes are disabled", domain.ErrNotFound))
		return
	}
	form := access.IsFormSubmission(r)
	key, ok := s.checkAttempt(w, r, stepVerify, username)
	if !ok {
		return
	}

	var req domain.VerifyRequest
	next := "/"
	if form {
		r.Body = http.MaxBytesReader(w, r.Body, maxEntryBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeBadRequest(w, "invalid verification form")
			return
		}
		req.Challenge = r.PostForm.Get(access.FormChallengeField)
		req.Code = r.PostForm.Get(access.FormCodeField)
		next = access.RedirectTarget(r.PostForm.Get(access.FormNextField), "/")
	} else if err := decodeJSONBody(w, r, maxEntryBodyBytes, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sess, err := s.codec.VerifyChallenge(req.Challenge, strings.TrimSpace(req.Code))
	if err != nil || sess.Subject != username {
		s.metrics.LoginAttempt(stepVerify, "failure")
		s.log.Warn("one-time code rejected", log.Username(username), log.RemoteIP(netutil.ClientIP(r, s.trusted)))
		if form {
			writeVerifyPage(w, r, verifyPageState{Challenge: req.Challenge, Next: next, ErrorText: "That code did not work."}, http.StatusUnauthorized)
			return
		}
		writeError(w, http.StatusUnauthorized, fmt.Errorf("%w: invalid or expired code", domain.ErrUnauthorized))
		return
	}
	s.resetAttempts(r.Context(), key)
	s.metrics.LoginAttempt(stepVerify, "success")
	s.log.Info("customer signed in", log.Username(username), zap.Bool("otp", true))
	s.issueSession(w, r, username, form, next)
}

func (s *Server) issueSession(w http.ResponseWriter, r *http.Request, username string, form bool, next string) {
	tok, expiresAt, err := s.codec.IssueSession(username)
	if err != nil {
		s.log.Error("session issue failed", log.Username(username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	http.SetCookie(w, access.SessionCookie(tok, s.codec.SessionTTL(), s.cfg.CookieSecure))
	if form {
		http.Redirect(w, r, access.RedirectTarget(next, "/"), http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, domain.LoginResponse{
		Success:   true,
		Token:     tok,
		ExpiresAt: expiresAt.UTC(),
	})
}
