package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/auth"
	"github.com/sakif/dust/internal/model"
	"github.com/sakif/dust/internal/repository"
	"github.com/sakif/dust/internal/session"
)

// =========================================================================
// Login / Logout / Authenticate
// =========================================================================

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.mustRegister(t, "alice", "s3cret!")

	result, err := env.auth.Login(ctx, "alice", "s3cret!")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if len(result.Token) != 2*auth.SessionTokenBytes {
		t.Errorf("token length = %d, want %d", len(result.Token), 2*auth.SessionTokenBytes)
	}
	if result.ExpiresIn != 24*time.Hour {
		t.Errorf("ExpiresIn = %v, want 24h", result.ExpiresIn)
	}
	if result.Account.ID != alice.ID {
		t.Errorf("Account.ID = %q, want %q", result.Account.ID, alice.ID)
	}

	id, err := env.auth.Authenticate(ctx, result.Token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if id != alice.ID {
		t.Errorf("Authenticate() = %q, want %q", id, alice.ID)
	}
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustRegister(t, "alice", "s3cret!")

	// An OAuth-created account has no password.
	code := env.github.addUser("octocat", "")
	if _, err := env.auth.OAuthLogin(ctx, code); err != nil {
		t.Fatalf("OAuthLogin() error = %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		sentinel error
		code     string
	}{
		{"empty username", "", "x", apperror.ErrValidation, apperror.CodeCredentialsRequired},
		{"empty password", "alice", "", apperror.ErrValidation, apperror.CodeCredentialsRequired},
		{"unknown user", "nobody", "s3cret!", apperror.ErrUnauthorized, apperror.CodeInvalidCredentials},
		{"wrong password", "alice", "wrong!!", apperror.ErrUnauthorized, apperror.CodeInvalidCredentials},
		{"oauth account", "octocat", "anything", apperror.ErrUnauthorized, apperror.CodeInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.Login(ctx, tt.username, tt.password)
			assertCode(t, err, tt.sentinel, tt.code)
		})
	}
}

func TestLogout_InvalidatesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustRegister(t, "alice", "s3cret!")

	result, err := env.auth.Login(ctx, "alice", "s3cret!")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := env.auth.Logout(ctx, result.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	_, err = env.auth.Authenticate(ctx, result.Token)
	assertCode(t, err, apperror.ErrUnauthorized, apperror.CodeUnauthenticated)

	// Logging out again, or with nothing, still succeeds.
	if err := env.auth.Logout(ctx, result.Token); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}
	if err := env.auth.Logout(ctx, ""); err != nil {
		t.Errorf("Logout(\"\") error = %v", err)
	}
}

func TestAuthenticate_ExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustRegister(t, "alice", "s3cret!")

	result, err := env.auth.Login(ctx, "alice", "s3cret!")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	env.mini.FastForward(23 * time.Hour)
	if _, err := env.auth.Authenticate(ctx, result.Token); err != nil {
		t.Fatalf("Authenticate() before expiry error = %v", err)
	}

	env.mini.FastForward(2 * time.Hour)
	_, err = env.auth.Authenticate(ctx, result.Token)
	assertCode(t, err, apperror.ErrUnauthorized, apperror.CodeUnauthenticated)
}

func TestAuthenticate_RejectsUnknownAndResetTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.Authenticate(ctx, "deadbeef")
	assertCode(t, err, apperror.ErrUnauthorized, apperror.CodeUnauthenticated)

	// A reset session carries an email, not an account id.
	if err := env.sessions.Set(ctx, "reset-tok", session.Record{Email: "a@example.com"}, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	_, err = env.auth.Authenticate(ctx, "reset-tok")
	assertCode(t, err, apperror.ErrUnauthorized, apperror.CodeUnauthenticated)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustRegister(t, "alice", "s3cret!")

	got, err := env.auth.Me(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("Username = %q, want alice", got.Username)
	}

	_, err = env.auth.Me(context.Background(), "missing")
	assertCode(t, err, apperror.ErrNotFound, "")
}

// =========================================================================
// OAuthLogin
// =========================================================================

func TestOAuthLogin_CreatesAccountOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.github.addUser("octocat", "octocat@github.com")

	first, err := env.auth.OAuthLogin(ctx, code)
	if err != nil {
		t.Fatalf("OAuthLogin() error = %v", err)
	}
	a := first.Account
	if a.Username != "octocat" || a.GitAccount != "octocat" {
		t.Errorf("username/git_account = %q/%q, want octocat/octocat", a.Username, a.GitAccount)
	}
	if a.GitHubLink != "https://github.com/octocat" {
		t.Errorf("GitHubLink = %q", a.GitHubLink)
	}
	if a.Email != "octocat@github.com" {
		t.Errorf("Email = %q, want the GitHub email", a.Email)
	}

	second, err := env.auth.OAuthLogin(ctx, code)
	if err != nil {
		t.Fatalf("second OAuthLogin() error = %v", err)
	}
	if second.Account.ID != a.ID {
		t.Errorf("second login account = %q, want %q", second.Account.ID, a.ID)
	}
	if second.Token == first.Token {
		t.Error("each login should issue a fresh token")
	}
}

func TestOAuthLogin_ExistingByUsername(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustRegister(t, "alice", "s3cret!")
	code := env.github.addUser("alice", "")

	result, err := env.auth.OAuthLogin(context.Background(), code)
	if err != nil {
		t.Fatalf("OAuthLogin() error = %v", err)
	}
	if result.Account.ID != alice.ID {
		t.Errorf("logged into %q, want existing account %q", result.Account.ID, alice.ID)
	}
}

func TestOAuthLogin_GitHubEmailTakenIsNotClaimed(t *testing.T) {
	env := newTestEnv(t)
	env.mustRegister(t, "alice", "s3cret!")
	code := env.github.addUser("octocat", "alice@example.com")

	result, err := env.auth.OAuthLogin(context.Background(), code)
	if err != nil {
		t.Fatalf("OAuthLogin() error = %v", err)
	}
	if result.Account.Email != "" {
		t.Errorf("Email = %q, want empty (already used by alice)", result.Account.Email)
	}
}

func TestOAuthLogin_Ambiguous(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One account is named "octocat" while mallory's account is linked to
	// the GitHub login "octocat".
	env.mustRegister(t, "octocat", "s3cret!")
	if err := env.db.CreateAccount(ctx, &model.Account{Username: "mallory", GitAccount: "octocat"}); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	code := env.github.addUser("octocat", "")

	_, err := env.auth.OAuthLogin(ctx, code)
	assertCode(t, err, apperror.ErrConflict, apperror.CodeAmbiguousIdentity)
}

func TestOAuthLogin_BadCode(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.OAuthLogin(context.Background(), "nope")
	assertCode(t, err, apperror.ErrUnauthorized, apperror.CodeOAuthExchangeFailed)

	_, err = env.auth.OAuthLogin(context.Background(), "")
	assertCode(t, err, apperror.ErrValidation, "")
}

func TestOAuthLogin_UsernameRaceRetries(t *testing.T) {
	env := newTestEnvWithAccounts(t, func(inner repository.AccountRepository) repository.AccountRepository {
		return &racingAccounts{AccountRepository: inner, stealUsername: "octocat"}
	})
	code := env.github.addUser("octocat", "")

	result, err := env.auth.OAuthLogin(context.Background(), code)
	if err != nil {
		t.Fatalf("OAuthLogin() error = %v", err)
	}
	if !strings.HasPrefix(result.Account.Username, "octocat-") {
		t.Errorf("Username = %q, want provisional octocat-xxxxxx", result.Account.Username)
	}
	if result.Account.GitAccount != "octocat" {
		t.Errorf("GitAccount = %q, want octocat", result.Account.GitAccount)
	}
}

// =========================================================================
// Password reset
// =========================================================================

func TestRequestPasswordReset_SendsOneLink(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustRegister(t, "alice", "s3cret!")

	if err := env.auth.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}

	if len(env.mailer.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(env.mailer.sent))
	}
	msg := env.mailer.sent[0]
	if msg.To != "alice@example.com" {
		t.Errorf("To = %q", msg.To)
	}

	token := resetTokenFrom(t, msg.Text)
	rec, err := env.sessions.Get(ctx, token)
	if err != nil {
		t.Fatalf("reset session missing: %v", err)
	}
	if rec.Email != "alice@example.com" {
		t.Errorf("session email = %q", rec.Email)
	}
	if ttl := env.mini.TTL("dust:session:" + token); ttl != 24*time.Hour {
		t.Errorf("reset TTL = %v, want 24h", ttl)
	}
	if !rec.CreatedAt.Equal(epoch) {
		t.Errorf("session CreatedAt = %v, want clock time %v", rec.CreatedAt, epoch)
	}
	if !strings.Contains(msg.Text, "valid for 24 hours") {
		t.Errorf("mail does not state the link lifetime:\n%s", msg.Text)
	}
}

func TestRequestPasswordReset_MailStatesConfiguredTTL(t *testing.T) {
	env := newTestEnv(t)
	env.mustRegister(t, "alice", "s3cret!")
	svc := NewAuthService(env.db, env.sessions, auth.NewPasswordServiceForTest(4), env.github, env.mailer, env.clock,
		AuthConfig{ResetTTL: time.Hour, ResetBaseURL: "http://ranking.dorahacks.com/resetpassword"}, env.logger)

	if err := svc.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}

	text := env.mailer.sent[0].Text
	if !strings.Contains(text, "valid for 1 hour.") || strings.Contains(text, "24 hours") {
		t.Errorf("mail should state a 1 hour lifetime:\n%s", text)
	}
	token := resetTokenFrom(t, text)
	if ttl := env.mini.TTL("dust:session:" + token); ttl != time.Hour {
		t.Errorf("reset TTL = %v, want 1h", ttl)
	}
}

func TestRequestPasswordReset_Failures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.auth.RequestPasswordReset(ctx, "  ")
	assertCode(t, err, apperror.ErrValidation, apperror.CodeEmailRequired)

	err = env.auth.RequestPasswordReset(ctx, "ghost@example.com")
	assertCode(t, err, apperror.ErrNotFound, apperror.CodeAccountNotFound)

	if len(env.mailer.sent) != 0 {
		t.Errorf("sent %d emails, want 0", len(env.mailer.sent))
	}
}

func TestRequestPasswordReset_MailFailureDropsSession(t *testing.T) {
	env := newTestEnv(t)
	env.mustRegister(t, "alice", "s3cret!")
	env.mailer.err = errors.New("smtp: connection refused")

	err := env.auth.RequestPasswordReset(context.Background(), "alice@example.com")
	if err == nil {
		t.Fatal("RequestPasswordReset() error = nil, want mail failure")
	}
	if keys := env.mini.Keys(); len(keys) != 0 {
		t.Errorf("redis keys after failed send = %v, want none", keys)
	}
}

func TestCompletePasswordReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.mustRegister(t, "alice", "s3cret!")

	if err := env.auth.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	token := resetTokenFrom(t, env.mailer.sent[0].Text)

	resetAt := epoch.Add(2 * time.Hour)
	env.clock.Set(resetAt)
	if err := env.auth.CompletePasswordReset(ctx, token, "n3w-pass"); err != nil {
		t.Fatalf("CompletePasswordReset() error = %v", err)
	}
	if got := env.mustAccount(t, alice.ID).UpdatedAt; !got.Equal(resetAt) {
		t.Errorf("UpdatedAt = %v, want clock time %v", got, resetAt)
	}

	if _, err := env.auth.Login(ctx, "alice", "n3w-pass"); err != nil {
		t.Errorf("Login with new password error = %v", err)
	}
	_, err := env.auth.Login(ctx, "alice", "s3cret!")
	assertCode(t, err, apperror.ErrUnauthorized, apperror.CodeInvalidCredentials)

	// The link is single use.
	err = env.auth.CompletePasswordReset(ctx, token, "another1")
	assertCode(t, err, apperror.ErrNotFound, apperror.CodeInvalidOrExpiredToken)
}

func TestCompletePasswordReset_Failures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustRegister(t, "alice", "s3cret!")

	login, err := env.auth.Login(ctx, "alice", "s3cret!")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := env.sessions.Set(ctx, "ghost-tok", session.Record{Email: "ghost@example.com"}, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	tests := []struct {
		name     string
		token    string
		password string
		sentinel error
		code     string
	}{
		{"missing token", "", "n3w-pass", apperror.ErrValidation, apperror.CodeCredentialsRequired},
		{"missing password", "tok", "", apperror.ErrValidation, apperror.CodeCredentialsRequired},
		{"short password", "tok", "abc", apperror.ErrValidation, ""},
		{"unknown token", "unknown", "n3w-pass", apperror.ErrNotFound, apperror.CodeInvalidOrExpiredToken},
		{"login token", login.Token, "n3w-pass", apperror.ErrNotFound, apperror.CodeInvalidOrExpiredToken},
		{"email without account", "ghost-tok", "n3w-pass", apperror.ErrNotFound, apperror.CodeAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.auth.CompletePasswordReset(ctx, tt.token, tt.password)
			assertCode(t, err, tt.sentinel, tt.code)
		})
	}
}

// resetTokenFrom pulls the token query parameter out of a reset email body.
func resetTokenFrom(t *testing.T, body string) string {
	t.Helper()
	for _, field := range strings.Fields(body) {
		if !strings.HasPrefix(field, "http") {
			continue
		}
		u, err := url.Parse(field)
		if err != nil {
			continue
		}
		if tok := u.Query().Get("token"); tok != "" {
			return tok
		}
	}
	t.Fatalf("no reset link in body:\n%s", body)
	return ""
}
