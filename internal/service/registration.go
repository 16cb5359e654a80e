package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/metrics"
	"github.com/sakif/dust/internal/model"
)

const (
	// DefaultStarRepo is starred by reward registrations.
	DefaultStarRepo = "truechain/truechain-consensus-core"
	// RewardDust is the owned dust a reward registration starts with.
	RewardDust int64 = 50
)

// RegistrationConfig holds the registration tunables.
type RegistrationConfig struct {
	StarRepo   string
	RewardDust int64
}

// RegistrationService creates accounts from a password form or a GitHub code.
// It shares the session and OAuth plumbing of AuthService.
type RegistrationService struct {
	auth   *AuthService
	cfg    RegistrationConfig
	logger *slog.Logger
}

func NewRegistrationService(authService *AuthService, cfg RegistrationConfig, logger *slog.Logger) *RegistrationService {
	if cfg.StarRepo == "" {
		cfg.StarRepo = DefaultStarRepo
	}
	if cfg.RewardDust <= 0 {
		cfg.RewardDust = RewardDust
	}
	return &RegistrationService{auth: authService, cfg: cfg, logger: logger}
}

// Register creates a password account. Fields are validated in order
// (username, email, password), then username and email are checked for
// uniqueness in that order. The first failure is returned.
//
// The insert still maps a UNIQUE violation to the same Conflict, for a
// writer that takes the name between the check and the insert.
func (s *RegistrationService) Register(ctx context.Context, username, email, password string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail("email", email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if err := s.requireUnused(ctx, "username", username, s.auth.accounts.GetAccountByUsername); err != nil {
		return nil, err
	}
	if err := s.requireUnused(ctx, "email", email, s.auth.accounts.GetAccountByEmail); err != nil {
		return nil, err
	}

	hash, err := s.auth.passwords.Hash(password)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.auth.accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	metrics.RecordRegistration("password")
	s.logger.Info("account registered",
		slog.String("accountID", account.ID),
		slog.String("username", account.Username),
	)
	return account, nil
}

// RegisterViaOAuth creates an account for a GitHub user who has none yet and
// logs it in. Any existing match, by username or by linked login, is a
// DuplicateAccount conflict.
func (s *RegistrationService) RegisterViaOAuth(ctx context.Context, code string) (*LoginResult, error) {
	_, ghUser, err := s.auth.exchangeIdentity(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.requireNewIdentity(ctx, ghUser.Login); err != nil {
		return nil, err
	}

	account, err := s.auth.createOAuthAccount(ctx, ghUser, nil)
	if err != nil {
		return nil, err
	}
	metrics.RecordRegistration("github")

	return s.auth.issueSession(ctx, account, "github")
}

// RegisterWithExternalReward is RegisterViaOAuth for the kcash campaign: the
// user stars the configured repository and starts with RewardDust.
//
// The star happens before the account is written, so a failed star leaves
// nothing behind. externalAddress and inviteCode are stored as given and may
// be empty.
func (s *RegistrationService) RegisterWithExternalReward(ctx context.Context, code, externalAddress, inviteCode string) (*LoginResult, error) {
	externalAddress = strings.TrimSpace(externalAddress)

	tok, ghUser, err := s.auth.exchangeIdentity(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.requireNewIdentity(ctx, ghUser.Login); err != nil {
		return nil, err
	}

	if err := s.auth.github.Star(ctx, tok, s.cfg.StarRepo); err != nil {
		s.logger.Warn("reward star failed",
			slog.String("login", ghUser.Login),
			slog.String("repo", s.cfg.StarRepo),
			slog.String("error", err.Error()),
		)
		return nil, apperror.State(apperror.CodeExternalActionFailed,
			fmt.Sprintf("could not star %s on your behalf", s.cfg.StarRepo))
	}

	reward := s.cfg.RewardDust
	account, err := s.auth.createOAuthAccount(ctx, ghUser, func(a *model.Account) {
		a.OwnedDust = reward
		a.GiftAddr = externalAddress
		a.InvitationCode = strings.TrimSpace(inviteCode)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordRegistration("kcash")
	metrics.RecordGrant("kcash_reward", reward)

	return s.auth.issueSession(ctx, account, "github")
}

// ClaimViaOAuth acknowledges a claim for authorLogin's project. It verifies
// the GitHub identity is not registered yet and changes nothing.
func (s *RegistrationService) ClaimViaOAuth(ctx context.Context, code, authorLogin string) error {
	authorLogin = strings.TrimSpace(authorLogin)
	if authorLogin == "" {
		return apperror.ValidationFailed("author_login", "author_login is required")
	}

	_, ghUser, err := s.auth.exchangeIdentity(ctx, code)
	if err != nil {
		return err
	}
	if err := s.requireNewIdentity(ctx, ghUser.Login); err != nil {
		return err
	}

	s.logger.Info("claim accepted",
		slog.String("login", ghUser.Login),
		slog.String("authorLogin", authorLogin),
	)
	return nil
}

// requireUnused fails with a DuplicateAccount conflict on field when lookup
// finds an account for value.
func (s *RegistrationService) requireUnused(
	ctx context.Context,
	field, value string,
	lookup func(context.Context, string) (*model.Account, error),
) error {
	existing, err := findAccount(lookup(ctx, value))
	if err != nil {
		return fmt.Errorf("checking %s: %w", field, err)
	}
	if existing != nil {
		return apperror.Duplicate(field, fmt.Sprintf("%s is already taken", field)).
			WithCode(apperror.CodeDuplicateAccount)
	}
	return nil
}

func (s *RegistrationService) requireNewIdentity(ctx context.Context, login string) error {
	res, err := ResolveIdentity(ctx, s.auth.accounts, login)
	if err != nil {
		return err
	}

	switch res.Kind {
	case ResolutionNewAccount:
		return nil
	case ResolutionExistingByUsername, ResolutionExistingByExternalID, ResolutionAmbiguous:
		return apperror.Duplicate("git_account",
			fmt.Sprintf("an account for GitHub user %q already exists", login)).
			WithCode(apperror.CodeDuplicateAccount)
	default:
		return fmt.Errorf("unhandled identity resolution %s", res.Kind)
	}
}
