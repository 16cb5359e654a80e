// Package handler contains the HTTP request handlers of the dust API.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming HTTP request (JSON body, URL params, query string)
//  2. Call the service layer
//  3. Write the HTTP response through writeJSON / writeError
//
// Handlers hold no business rules. Each one depends on a small interface
// declared here rather than on a concrete service, so tests can swap in a
// fake the same way the service tests swap in fake repositories.
package handler

import (
	"context"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/model"
	"github.com/sakif/dust/internal/service"
)

// Authenticator is the part of service.AuthService the auth handler uses.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	Logout(ctx context.Context, token string) error
	OAuthLogin(ctx context.Context, code string) (*service.LoginResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	CompletePasswordReset(ctx context.Context, token, newPassword string) error
	Me(ctx context.Context, accountID string) (*model.Account, error)
}

// Registrar is implemented by service.RegistrationService.
type Registrar interface {
	Register(ctx context.Context, username, email, password string) (*model.Account, error)
	RegisterViaOAuth(ctx context.Context, code string) (*service.LoginResult, error)
	RegisterWithExternalReward(ctx context.Context, code, externalAddress, inviteCode string) (*service.LoginResult, error)
	ClaimViaOAuth(ctx context.Context, code, authorLogin string) error
}

// Planets is implemented by service.PlanetService.
type Planets interface {
	SetupPlanet(ctx context.Context, ownerID string, in service.PlanetInput) (*model.Planet, bool, error)
	GetPlanet(ctx context.Context, name string) (*model.Planet, error)
	ListPlanets(ctx context.Context, limit, offset int) ([]model.Planet, error)
	ListBuilds(ctx context.Context, planetName string) ([]model.BuildRecord, error)
}

// Contributor is implemented by service.LedgerService.
type Contributor interface {
	Contribute(ctx context.Context, contributorID, planetName string, amount int64) (*model.BuildRecord, error)
}

// StateVerifier checks the OAuth state parameter. auth.StateSigner implements it.
type StateVerifier interface {
	Issue() (string, error)
	Verify(state string) error
}

var (
	_ Authenticator = (*service.AuthService)(nil)
	_ Registrar     = (*service.RegistrationService)(nil)
	_ Planets       = (*service.PlanetService)(nil)
	_ Contributor   = (*service.LedgerService)(nil)
)

// SessionResponse is returned by every endpoint that logs the caller in.
type SessionResponse struct {
	AuthToken string         `json:"auth_token"`
	ExpiresIn int64          `json:"expires_in"` // seconds
	UserInfo  *model.Account `json:"user_info"`
}

func sessionResponse(res *service.LoginResult) SessionResponse {
	return SessionResponse{
		AuthToken: res.Token,
		ExpiresIn: int64(res.ExpiresIn.Seconds()),
		UserInfo:  res.Account,
	}
}

// checkState validates an optional OAuth state. Clients that started the flow
// through GET /auth-login/github/url send it back; older clients omit it.
func checkState(states StateVerifier, state string) error {
	if state == "" || states == nil {
		return nil
	}
	if err := states.Verify(state); err != nil {
		return apperror.Unauthorized(apperror.CodeInvalidOAuthState, "OAuth state is invalid or expired")
	}
	return nil
}
