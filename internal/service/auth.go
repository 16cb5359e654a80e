// Package service contains the business logic layer of the application.
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services take repository and store interfaces, never concrete types, and
// return apperror values; handlers translate those into HTTP status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/xid"
	"golang.org/x/oauth2"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/auth"
	"github.com/sakif/dust/internal/clock"
	"github.com/sakif/dust/internal/mail"
	"github.com/sakif/dust/internal/metrics"
	"github.com/sakif/dust/internal/model"
	"github.com/sakif/dust/internal/repository"
	"github.com/sakif/dust/internal/session"
)

// OAuthProvider is the slice of auth.GitHubProvider the services use.
type OAuthProvider interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	User(ctx context.Context, tok *oauth2.Token) (*auth.GitHubUser, error)
	Star(ctx context.Context, tok *oauth2.Token, repo string) error
}

// AuthConfig holds the auth gateway's tunables.
type AuthConfig struct {
	LoginTTL     time.Duration
	ResetTTL     time.Duration
	ResetBaseURL string
}

// LoginResult is returned by every operation that issues a session.
type LoginResult struct {
	Token     string
	ExpiresIn time.Duration
	Account   *model.Account
}

// AuthService handles login, logout, OAuth login and password reset.
//
// DEPENDENCIES (injected via NewAuthService):
//   - accounts   repository.AccountRepository → account registry
//   - sessions   session.Store                → login and reset tokens
//   - passwords  *auth.PasswordService        → bcrypt hashing
//   - github     OAuthProvider                → code exchange and profile
//   - mailer     mail.Mailer                  → reset emails
//   - clock      clock.Clock                  → session and password timestamps
type AuthService struct {
	accounts  repository.AccountRepository
	sessions  session.Store
	passwords *auth.PasswordService
	github    OAuthProvider
	mailer    mail.Mailer
	clock     clock.Clock
	cfg       AuthConfig
	logger    *slog.Logger
}

func NewAuthService(
	accounts repository.AccountRepository,
	sessions session.Store,
	passwords *auth.PasswordService,
	github OAuthProvider,
	mailer mail.Mailer,
	clk clock.Clock,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	if cfg.LoginTTL <= 0 {
		cfg.LoginTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 24 * time.Hour
	}
	return &AuthService{
		accounts:  accounts,
		sessions:  sessions,
		passwords: passwords,
		github:    github,
		mailer:    mailer,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
	}
}

// Login checks a username and password and issues a session.
//
// Unknown usernames, OAuth-only accounts and wrong passwords all return the
// same InvalidCredentials error so callers cannot probe for usernames.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperror.ValidationFailed("username", "username and password are required").
			WithCode(apperror.CodeCredentialsRequired)
	}

	invalid := apperror.Unauthorized(apperror.CodeInvalidCredentials, "invalid username or password")

	account, err := s.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	if !account.HasPassword() {
		return nil, invalid
	}
	if err := s.passwords.Verify(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, invalid
		}
		return nil, fmt.Errorf("verifying password: %w", err)
	}

	return s.issueSession(ctx, account, "password")
}

// Logout deletes the session behind token. Unknown and empty tokens succeed.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// OAuthLogin exchanges a GitHub code and logs the matching account in,
// creating it on first sight.
func (s *AuthService) OAuthLogin(ctx context.Context, code string) (*LoginResult, error) {
	_, ghUser, err := s.exchangeIdentity(ctx, code)
	if err != nil {
		return nil, err
	}

	res, err := ResolveIdentity(ctx, s.accounts, ghUser.Login)
	if err != nil {
		return nil, err
	}

	var account *model.Account
	switch res.Kind {
	case ResolutionExistingByUsername, ResolutionExistingByExternalID:
		account = res.Account
	case ResolutionNewAccount:
		account, err = s.createOAuthAccount(ctx, ghUser, nil)
		if err != nil {
			return nil, err
		}
		metrics.RecordRegistration("github_login")
	case ResolutionAmbiguous:
		s.logger.Warn("ambiguous GitHub identity",
			slog.String("login", ghUser.Login),
			slog.String("usernameMatch", res.ByUsername.ID),
			slog.String("gitAccountMatch", res.ByExternalID.ID),
		)
		return nil, ambiguousIdentity(ghUser.Login)
	default:
		return nil, fmt.Errorf("unhandled identity resolution %s", res.Kind)
	}

	return s.issueSession(ctx, account, "github")
}

// RequestPasswordReset mails a single-use reset link to the account behind email.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperror.ValidationFailed("email", "email is required").WithCode(apperror.CodeEmailRequired)
	}

	if _, err := s.accounts.GetAccountByEmail(ctx, email); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return accountNotFound(email)
		}
		return fmt.Errorf("looking up account: %w", err)
	}

	token, err := auth.NewSessionToken()
	if err != nil {
		return err
	}
	rec := session.Record{Email: email, CreatedAt: s.clock.Now()}
	if err := s.sessions.Set(ctx, token, rec, s.cfg.ResetTTL); err != nil {
		return fmt.Errorf("storing reset session: %w", err)
	}

	link, err := mail.ResetLink(s.cfg.ResetBaseURL, token)
	if err != nil {
		s.dropSession(ctx, token)
		return err
	}
	msg, err := mail.ResetPasswordMessage(email, link, s.cfg.ResetTTL)
	if err != nil {
		s.dropSession(ctx, token)
		return err
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		s.dropSession(ctx, token)
		metrics.RecordResetEmail("failed")
		s.logger.Error("failed to send reset email",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("sending reset email: %w", err)
	}

	metrics.RecordResetEmail("sent")
	s.logger.Info("password reset requested", slog.String("email", email))
	return nil
}

// CompletePasswordReset sets a new password for the account the reset token
// was issued to, then burns the token.
func (s *AuthService) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return apperror.ValidationFailed("passwd", "token and new password are required").
			WithCode(apperror.CodeCredentialsRequired)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	rec, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return invalidResetToken()
		}
		return fmt.Errorf("reading reset session: %w", err)
	}
	if rec.Email == "" {
		// a login session, not a reset link
		return invalidResetToken()
	}

	account, err := s.accounts.GetAccountByEmail(ctx, rec.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return accountNotFound(rec.Email)
		}
		return fmt.Errorf("looking up account: %w", err)
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, s.clock.Now()); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	s.dropSession(ctx, token)
	s.logger.Info("password reset completed", slog.String("accountID", account.ID))
	return nil
}

// Authenticate resolves a login session token to its account id.
// It implements auth.Authenticator for the session middleware.
func (s *AuthService) Authenticate(ctx context.Context, token string) (string, error) {
	unauthenticated := apperror.Unauthorized(apperror.CodeUnauthenticated, "valid session token required")
	if token == "" {
		return "", unauthenticated
	}

	rec, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", unauthenticated
		}
		return "", fmt.Errorf("reading session: %w", err)
	}
	if rec.AccountID == "" {
		return "", unauthenticated
	}
	return rec.AccountID, nil
}

// Me returns the account behind an authenticated request.
func (s *AuthService) Me(ctx context.Context, accountID string) (*model.Account, error) {
	return s.accounts.GetAccountByID(ctx, accountID)
}

func (s *AuthService) issueSession(ctx context.Context, account *model.Account, method string) (*LoginResult, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return nil, err
	}

	rec := session.Record{AccountID: account.ID, CreatedAt: s.clock.Now()}
	if err := s.sessions.Set(ctx, token, rec, s.cfg.LoginTTL); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	metrics.RecordSession(method)
	s.logger.Info("session issued",
		slog.String("accountID", account.ID),
		slog.String("method", method),
	)

	return &LoginResult{Token: token, ExpiresIn: s.cfg.LoginTTL, Account: account}, nil
}

// exchangeIdentity trades a code for a token and the GitHub profile behind it.
func (s *AuthService) exchangeIdentity(ctx context.Context, code string) (*oauth2.Token, *auth.GitHubUser, error) {
	if strings.TrimSpace(code) == "" {
		return nil, nil, apperror.ValidationFailed("code", "code is required")
	}

	tok, err := s.github.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("oauth exchange failed", slog.String("error", err.Error()))
		return nil, nil, apperror.Unauthorized(apperror.CodeOAuthExchangeFailed, "GitHub did not accept the authorization code")
	}

	ghUser, err := s.github.User(ctx, tok)
	if err != nil {
		s.logger.Warn("fetching GitHub profile failed", slog.String("error", err.Error()))
		return nil, nil, apperror.Unauthorized(apperror.CodeOAuthExchangeFailed, "could not read the GitHub profile")
	}

	return tok, ghUser, nil
}

// createOAuthAccount inserts an account for a GitHub user. mutate, if set,
// adjusts the account before insert.
//
// If another writer took the login as a username between resolution and
// insert, it retries once with a provisional "login-xxxxxx" username.
func (s *AuthService) createOAuthAccount(ctx context.Context, ghUser *auth.GitHubUser, mutate func(*model.Account)) (*model.Account, error) {
	account := &model.Account{
		Username:   ghUser.Login,
		GitAccount: ghUser.Login,
		GitHubLink: ghUser.HTMLURL,
		Avatar:     ghUser.AvatarURL,
	}
	if ghUser.Email != "" {
		// Only claim the GitHub email if no other account uses it already.
		taken, err := findAccount(s.accounts.GetAccountByEmail(ctx, ghUser.Email))
		if err != nil {
			return nil, fmt.Errorf("checking email: %w", err)
		}
		if taken == nil {
			account.Email = ghUser.Email
		}
	}
	if mutate != nil {
		mutate(account)
	}

	err := s.accounts.CreateAccount(ctx, account)
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && errors.Is(err, apperror.ErrConflict) && appErr.Field == "username" {
		id := xid.New().String()
		account.Username = ghUser.Login + "-" + id[len(id)-6:]
		s.logger.Warn("username taken during OAuth registration, using provisional name",
			slog.String("login", ghUser.Login),
			slog.String("username", account.Username),
		)
		err = s.accounts.CreateAccount(ctx, account)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created from GitHub",
		slog.String("accountID", account.ID),
		slog.String("login", ghUser.Login),
	)
	return account, nil
}

// dropSession deletes a token whose flow did not complete. Failures are only
// logged; the session expires on its own.
func (s *AuthService) dropSession(ctx context.Context, token string) {
	if err := s.sessions.Delete(ctx, token); err != nil {
		s.logger.Error("failed to delete session", slog.String("error", err.Error()))
	}
}

func accountNotFound(email string) error {
	return apperror.NotFound("account", email).WithCode(apperror.CodeAccountNotFound)
}

func invalidResetToken() error {
	return &apperror.AppError{
		Err:     apperror.ErrNotFound,
		Message: "the reset link is invalid or has expired",
		Field:   "token",
		Code:    apperror.CodeInvalidOrExpiredToken,
	}
}
