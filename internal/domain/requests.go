package domain

import "time"

// UpsertCustomerRequest is the JSON body of PUT /v1/customers/{username}.
type UpsertCustomerRequest struct {
	BackendURL  string `json:"backend_url"`
	DisplayName string `json:"display_name,omitempty"`
}

// SetPasswordRequest is the JSON body of PUT /v1/customers/{username}/password.
type SetPasswordRequest struct {
	Password string `json:"password"`
	Replace  bool   `json:"replace,omitempty"`
}

// CustomerListResponse wraps the admin list endpoint result.
type CustomerListResponse struct {
	Customers []CustomerMapping `json:"customers"`
}

// LoginRequest is the JSON body accepted by the edge login entry point.
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse is returned by the login and verify entry points. Exactly
// one of Token or Challenge is set.
type LoginResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token,omitempty"`
	Challenge string    `json:"challenge,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyRequest completes a two-step login with the emailed code.
type VerifyRequest struct {
	Challenge string `json:"challenge"`
	Code      string `json:"code"`
}

// SessionResponse describes the caller's current edge session.
type SessionResponse struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the JSON body returned for structured errors.
type ErrorResponse struct {
	Error      string `json:"error"`
	ErrorCode  string `json:"error_code,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}
