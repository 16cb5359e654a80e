// Package apperror defines the domain error taxonomy shared by every layer.
//
// Each error carries a sentinel (for errors.Is), a human message, an optional
// field name for validation failures and an optional machine-readable Code
// naming the specific variant ("duplicate_planet_name", "insufficient_balance").
// Handlers translate the sentinel into an HTTP status; clients switch on Code.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrConflict            = errors.New("conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrState               = errors.New("invalid state")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Variant codes. One per distinct failure a client may want to branch on.
const (
	CodeCredentialsRequired   = "credentials_required"
	CodeInvalidCredentials    = "invalid_credentials"
	CodeUnauthenticated       = "unauthenticated"
	CodeOAuthExchangeFailed   = "oauth_exchange_failed"
	CodeInvalidOAuthState     = "invalid_oauth_state"
	CodeEmailRequired         = "email_required"
	CodeAccountNotFound       = "account_not_found"
	CodeInvalidOrExpiredToken = "invalid_or_expired_token"
	CodeDuplicateAccount      = "duplicate_account"
	CodeAmbiguousIdentity     = "ambiguous_identity"
	CodeDuplicatePlanetName   = "duplicate_planet_name"
	CodeDuplicatePlanetDemo   = "duplicate_planet_demo_url"
	CodeDuplicatePlanetGithub = "duplicate_planet_github_url"
	CodePlanetNotFound        = "planet_not_found"
	CodeInsufficientBalance   = "insufficient_balance"
	CodeFundingWindowExpired  = "funding_window_expired"
	CodeExternalActionFailed  = "external_action_failed"
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Code    string // Optional: specific variant
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithCode returns a copy of e tagged with the given variant code.
func (e *AppError) WithCode(code string) *AppError {
	c := *e
	c.Code = code
	return &c
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Duplicate reports that value is already taken for field.
// HTTP handlers map this to 409 Conflict.
func Duplicate(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized covers bad credentials, failed OAuth exchanges and missing sessions.
func Unauthorized(code, message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
		Code:    code,
	}
}

// State reports an operation rejected because of the resource's current state.
func State(code, message string) *AppError {
	return &AppError{
		Err:     ErrState,
		Message: message,
		Code:    code,
	}
}

func InsufficientBalance(have, want int64) *AppError {
	return &AppError{
		Err:     ErrInsufficientBalance,
		Message: fmt.Sprintf("you do not have enough dust: have %d, need %d", have, want),
		Field:   "dust_num",
		Code:    CodeInsufficientBalance,
	}
}

// CodeOf extracts the variant code from err, or "" if err is not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
