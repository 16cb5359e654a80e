package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/auth"
	"github.com/sakif/dust/internal/clock"
	"github.com/sakif/dust/internal/mail"
	"github.com/sakif/dust/internal/model"
	"github.com/sakif/dust/internal/repository"
	"github.com/sakif/dust/internal/repository/sqlite"
	"github.com/sakif/dust/internal/session"
)

// =========================================================================
// FAKES
// =========================================================================

// fakeGitHub is an in-memory OAuthProvider. Codes map to profiles; the
// access token handed out is the code itself.
type fakeGitHub struct {
	mu      sync.Mutex
	users   map[string]*auth.GitHubUser // keyed by code
	starred []string
	starErr error
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{users: make(map[string]*auth.GitHubUser)}
}

// addUser registers a code for a GitHub login and returns the code.
func (f *fakeGitHub) addUser(login, email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	code := "code-" + login
	f.users[code] = &auth.GitHubUser{
		ID:        int64(len(f.users) + 1),
		Login:     login,
		Email:     email,
		AvatarURL: "https://avatars.example/" + login,
		HTMLURL:   "https://github.com/" + login,
	}
	return code
}

func (f *fakeGitHub) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[code]; !ok {
		return nil, auth.ErrExchangeFailed
	}
	return &oauth2.Token{AccessToken: code}, nil
}

func (f *fakeGitHub) User(_ context.Context, tok *oauth2.Token) (*auth.GitHubUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[tok.AccessToken]
	if !ok {
		return nil, errors.New("bad token")
	}
	copied := *u
	return &copied, nil
}

func (f *fakeGitHub) Star(_ context.Context, tok *oauth2.Token, repo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.starErr != nil {
		return f.starErr
	}
	f.starred = append(f.starred, f.users[tok.AccessToken].Login+"→"+repo)
	return nil
}

// fakeMailer records messages instead of sending them.
type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// racingAccounts simulates another writer taking a username between
// identity resolution and insert.
type racingAccounts struct {
	repository.AccountRepository
	stealUsername string
	once          sync.Once
}

func (r *racingAccounts) CreateAccount(ctx context.Context, a *model.Account) error {
	var err error
	r.once.Do(func() {
		err = r.AccountRepository.CreateAccount(ctx, &model.Account{Username: r.stealUsername})
	})
	if err != nil {
		return err
	}
	return r.AccountRepository.CreateAccount(ctx, a)
}

// =========================================================================
// TEST ENVIRONMENT
// =========================================================================

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	db       *sqlite.DB
	mini     *miniredis.Miniredis
	sessions *session.RedisStore
	github   *fakeGitHub
	mailer   *fakeMailer
	clock    *clock.Mock
	logger   *slog.Logger

	auth     *AuthService
	register *RegistrationService
	planets  *PlanetService
	ledger   *LedgerService
}

// newTestEnv wires every service against an in-memory SQLite database and
// a miniredis session store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithAccounts(t, nil)
}

// newTestEnvWithAccounts lets a test wrap the account repository.
func newTestEnvWithAccounts(t *testing.T, wrap func(repository.AccountRepository) repository.AccountRepository) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mini := miniredis.RunT(t)
	store := session.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mini.Addr()}))
	t.Cleanup(func() { store.Close() })

	var accounts repository.AccountRepository = db
	if wrap != nil {
		accounts = wrap(db)
	}

	env := &testEnv{
		db:       db,
		mini:     mini,
		sessions: store,
		github:   newFakeGitHub(),
		mailer:   &fakeMailer{},
		clock:    clock.NewMock(epoch),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	// Cost 4 is the bcrypt minimum.
	passwords := auth.NewPasswordServiceForTest(4)

	env.auth = NewAuthService(accounts, store, passwords, env.github, env.mailer, env.clock, AuthConfig{
		LoginTTL:     24 * time.Hour,
		ResetTTL:     24 * time.Hour,
		ResetBaseURL: "http://ranking.dorahacks.com/resetpassword",
	}, env.logger)
	env.register = NewRegistrationService(env.auth, RegistrationConfig{}, env.logger)
	env.planets = NewPlanetService(db, db, env.clock, env.logger)
	env.ledger = NewLedgerService(db, db, db, env.clock, env.logger)

	return env
}

func (e *testEnv) mustRegister(t *testing.T, username, password string) *model.Account {
	t.Helper()
	a, err := e.register.Register(context.Background(), username, username+"@example.com", password)
	if err != nil {
		t.Fatalf("Register(%q) error = %v", username, err)
	}
	return a
}

func (e *testEnv) mustAccount(t *testing.T, id string) *model.Account {
	t.Helper()
	a, err := e.db.GetAccountByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccountByID(%q) error = %v", id, err)
	}
	return a
}

func (e *testEnv) mustPlanet(t *testing.T, name string) *model.Planet {
	t.Helper()
	p, err := e.db.GetPlanetByName(context.Background(), name)
	if err != nil {
		t.Fatalf("GetPlanetByName(%q) error = %v", name, err)
	}
	return p
}

func planetInput(name string) PlanetInput {
	return PlanetInput{
		Name:        name,
		Email:       name + "@example.com",
		Keywords:    "space,dust",
		Description: "a planet called " + name,
		DemoURL:     "https://demo.example.com/" + name,
		GithubURL:   "https://github.com/example/" + name,
		TeamIntro:   "two people and a cat",
	}
}

// assertCode fails unless err is an AppError matching sentinel and code.
func assertCode(t *testing.T, err error, sentinel error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %v (%s)", sentinel, code)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want errors.Is %v", err, sentinel)
	}
	if code != "" && apperror.CodeOf(err) != code {
		t.Fatalf("code = %q, want %q (error: %v)", apperror.CodeOf(err), code, err)
	}
}
