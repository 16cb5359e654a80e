package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/dust/internal/apperror"
)

// SessionHeader carries the session token issued by login and registration.
const SessionHeader = "X-Auth-Token"

// contextKey is an unexported type used for context keys in this package.
// Only this package can create a key of type contextKey, so no other package
// can read or shadow the values stored under it.
type contextKey string

const (
	accountIDKey contextKey = "accountID"
	tokenKey     contextKey = "sessionToken"
)

// Authenticator resolves a session token to an account id.
// service.AuthService implements it against the session store.
//
// A token that does not resolve yields an error wrapping
// apperror.ErrUnauthorized. Any other error is an infrastructure failure.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the session token from X-Auth-Token (or an "Authorization: Bearer"
// header), resolves it and stores the account id in the request context.
// Missing or unknown tokens get 401 and stop the chain. A failing session
// store gets 500 and is logged.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := authenticate(r, authn)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(ctx))
			case errors.Is(err, apperror.ErrUnauthorized):
				writeAuthError(w, http.StatusUnauthorized,
					`{"error":"unauthorized","message":"valid session token required","code":"unauthenticated"}`)
			default:
				logger.ErrorContext(r.Context(), "authenticating session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeAuthError(w, http.StatusInternalServerError,
					`{"error":"internal_error","message":"An internal error occurred"}`)
			}
		})
	}
}

// OptionalAuth attaches the account id when a valid token is present but
// never blocks the request. Store failures are logged and the request goes
// on anonymously.
func OptionalAuth(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := authenticate(r, authn)
			switch {
			case err == nil:
				r = r.WithContext(ctx)
			case !errors.Is(err, apperror.ErrUnauthorized):
				logger.WarnContext(r.Context(), "session lookup failed, serving anonymously",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccountIDFromContext retrieves the authenticated account id.
// Returns ("", false) for anonymous requests.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

// SessionTokenFromContext returns the token the request authenticated with.
func SessionTokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenKey).(string)
	return tok, ok && tok != ""
}

// WithAccountID returns a context carrying an authenticated account id and
// token, as RequireAuth would. Handler tests use it to skip the middleware.
func WithAccountID(ctx context.Context, accountID, token string) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, accountID)
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromRequest extracts the session token. X-Auth-Token wins over
// the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.Header.Get(SessionHeader)); tok != "" {
		return tok
	}
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	return ""
}

func authenticate(r *http.Request, authn Authenticator) (context.Context, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, apperror.Unauthorized(apperror.CodeUnauthenticated, "session token required")
	}
	accountID, err := authn.Authenticate(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, apperror.Unauthorized(apperror.CodeUnauthenticated, "session has no account")
	}
	return WithAccountID(r.Context(), accountID, token), nil
}

func writeAuthError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}
