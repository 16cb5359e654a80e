package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/model"
	"github.com/sakif/dust/internal/repository"
)

// ResolutionKind tags the outcome of matching a GitHub login against the
// account registry.
type ResolutionKind int

const (
	// ResolutionNewAccount: nobody uses the login as username or git_account.
	ResolutionNewAccount ResolutionKind = iota
	// ResolutionExistingByUsername: an account's username equals the login
	// (and, if a git_account match exists too, it is the same account).
	ResolutionExistingByUsername
	// ResolutionExistingByExternalID: only an account's git_account matches.
	ResolutionExistingByExternalID
	// ResolutionAmbiguous: the username match and the git_account match are
	// different accounts.
	ResolutionAmbiguous
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolutionNewAccount:
		return "new_account"
	case ResolutionExistingByUsername:
		return "existing_by_username"
	case ResolutionExistingByExternalID:
		return "existing_by_external_id"
	case ResolutionAmbiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("ResolutionKind(%d)", int(k))
	}
}

// Resolution is the result of ResolveIdentity.
//
// Account is set for the two Existing kinds. ByUsername and ByExternalID hold
// the raw matches, both set for ResolutionAmbiguous.
type Resolution struct {
	Kind         ResolutionKind
	Account      *model.Account
	ByUsername   *model.Account
	ByExternalID *model.Account
}

// ResolveIdentity looks login up both as a username and as a linked GitHub
// login and classifies the pair of matches.
func ResolveIdentity(ctx context.Context, accounts repository.AccountRepository, login string) (Resolution, error) {
	byUsername, err := findAccount(accounts.GetAccountByUsername(ctx, login))
	if err != nil {
		return Resolution{}, fmt.Errorf("resolving identity %q by username: %w", login, err)
	}
	byExternal, err := findAccount(accounts.GetAccountByGitAccount(ctx, login))
	if err != nil {
		return Resolution{}, fmt.Errorf("resolving identity %q by git account: %w", login, err)
	}

	res := Resolution{ByUsername: byUsername, ByExternalID: byExternal}
	switch {
	case byUsername == nil && byExternal == nil:
		res.Kind = ResolutionNewAccount
	case byUsername != nil && (byExternal == nil || byExternal.ID == byUsername.ID):
		res.Kind = ResolutionExistingByUsername
		res.Account = byUsername
	case byUsername == nil:
		res.Kind = ResolutionExistingByExternalID
		res.Account = byExternal
	default:
		res.Kind = ResolutionAmbiguous
	}
	return res, nil
}

// findAccount turns a NotFound lookup into (nil, nil).
func findAccount(a *model.Account, err error) (*model.Account, error) {
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func ambiguousIdentity(login string) error {
	return apperror.Duplicate("git_account",
		fmt.Sprintf("GitHub login %q matches two different accounts", login)).
		WithCode(apperror.CodeAmbiguousIdentity)
}
