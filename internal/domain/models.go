// Package domain defines the core data types shared across the edge router,
// customer directory, and store layers.
package domain

import "time"

// CustomerMapping routes a customer subdomain to its backend instance.
type CustomerMapping struct {
	Username    string    `json:"username"`
	BackendURL  string    `json:"backend_url"`
	DisplayName string    `json:"display_name,omitempty"`
	AssignedAt  time.Time `json:"assigned_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	// Version is bumped by the store on every write. Callers pass it back
	// as an expected version to fence concurrent updates; 0 disables the
	// check.
	Version int64 `json:"version"`
}

// CustomerCredential is the password a customer signs in with on their own
// subdomain.
type CustomerCredential struct {
	Username     string
	PasswordHash string
	UpdatedAt    time.Time
}

// RateLimitEntry is one fixed-window attempt counter.
type RateLimitEntry struct {
	Key           string
	Count         int
	WindowResetAt time.Time
}
