// Package session stores short-lived auth grants keyed by an opaque token.
//
// A record either names an account (login sessions) or an email address
// (password-reset sessions). A token that exists is valid; expiry or
// deletion invalidates it immediately.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired token.
var ErrNotFound = errors.New("session: not found")

// Record is the payload stored under a token.
type Record struct {
	AccountID string
	Email     string
	CreatedAt time.Time
}

// Store is the key-value contract the auth gateway depends on.
type Store interface {
	Set(ctx context.Context, token string, rec Record, ttl time.Duration) error
	Get(ctx context.Context, token string) (*Record, error)
	// Delete is idempotent.
	Delete(ctx context.Context, token string) error
	// Expire resets the token's remaining lifetime. Missing tokens return ErrNotFound.
	Expire(ctx context.Context, token string, ttl time.Duration) error
}
