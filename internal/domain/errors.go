package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrNotFound means no customer mapping exists for the username.
	ErrNotFound = errors.New("customer not found")

	// ErrUnauthorized indicates missing or invalid credentials, tokens or
	// admin keys.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned when a client exceeds the allowed number of
	// authentication attempts in the current window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrBackendUnavailable means the resolved backend could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrConfig indicates a missing or invalid secret or setting. Operations
	// that hit it fail closed.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidUsername is returned for usernames that are not a valid
	// DNS label.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidBackend is returned for backend URLs that are not absolute
	// http(s) URLs.
	ErrInvalidBackend = errors.New("invalid backend url")

	// ErrVersionConflict is returned when an optimistic write observes a
	// different stored version than the caller expected.
	ErrVersionConflict = errors.New("version conflict")

	// ErrCredentialExists is returned when a password is already set and the
	// caller did not ask to replace it.
	ErrCredentialExists = errors.New("credential already set")
)

// CustomerError wraps an underlying error with customer context.
type CustomerError struct {
	Username string
	Op       string
	Err      error
}

func (e *CustomerError) Error() string {
	if e.Username != "" {
		return fmt.Sprintf("customer %s: %s: %v", e.Username, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CustomerError) Unwrap() error {
	return e.Err
}

// Machine-readable error codes carried in [ErrorResponse.ErrorCode].
const (
	CodeNotFound         = "not_found"
	CodeUnauthorized     = "unauthorized"
	CodeRateLimited      = "rate_limited"
	CodeUnavailable      = "backend_unavailable"
	CodeConfig           = "config_error"
	CodeInvalidUsername  = "invalid_username"
	CodeInvalidBackend   = "invalid_backend"
	CodeVersionConflict  = "version_conflict"
	CodeCredentialExists = "credential_exists"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal_error"
)

var codeSentinels = []struct {
	code string
	err  error
}{
	{CodeNotFound, ErrNotFound},
	{CodeUnauthorized, ErrUnauthorized},
	{CodeRateLimited, ErrRateLimited},
	{CodeUnavailable, ErrBackendUnavailable},
	{CodeConfig, ErrConfig},
	{CodeInvalidUsername, ErrInvalidUsername},
	{CodeInvalidBackend, ErrInvalidBackend},
	{CodeVersionConflict, ErrVersionConflict},
	{CodeCredentialExists, ErrCredentialExists},
}

// ErrorCode returns the code for the first sentinel err wraps, or
// [CodeInternal].
func ErrorCode(err error) string {
	for _, cs := range codeSentinels {
		if errors.Is(err, cs.err) {
			return cs.code
		}
	}
	return CodeInternal
}

// SentinelForCode is the inverse of [ErrorCode]. Unknown codes return nil.
func SentinelForCode(code string) error {
	for _, cs := range codeSentinels {
		if cs.code == code {
			return cs.err
		}
	}
	return nil
}
