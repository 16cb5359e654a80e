// Package repository declares the storage contracts the service layer depends on.
//
// Services only see these interfaces; internal/repository/sqlite provides the
// production implementation and tests substitute in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/dust/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// AccountRepository is the account registry.
//
// Lookups return an apperror NotFound when no row matches. Create returns an
// apperror Conflict (with Field set) when a unique column is already taken.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByGitAccount(ctx context.Context, login string) (*model.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
}

// PlanetRepository is the planet registry.
type PlanetRepository interface {
	GetPlanetByID(ctx context.Context, id string) (*model.Planet, error)
	GetPlanetByName(ctx context.Context, name string) (*model.Planet, error)
	ListPlanets(ctx context.Context, opts ListOptions) ([]model.Planet, error)

	// PlanetFieldTaken reports whether another planet (any id but excludeID)
	// already uses value in column. column is one of "name", "demo_url", "github_url".
	PlanetFieldTaken(ctx context.Context, column, value, excludeID string) (bool, error)

	// CreatePlanetWithBonus inserts planet and credits its owner with bonus
	// owned and received dust in one transaction.
	CreatePlanetWithBonus(ctx context.Context, planet *model.Planet, bonus int64) error

	// UpdatePlanetDetails rewrites the descriptive fields of an existing planet.
	// Balances, status and ownership are never touched.
	// planet.UpdatedAt is stored as given, or stamped when zero.
	UpdatePlanetDetails(ctx context.Context, planet *model.Planet) error

	// MarkUnshelved moves an active planet to unshelved, stamping updated_at
	// with at. It reports whether this call performed the transition.
	MarkUnshelved(ctx context.Context, id string, at time.Time) (bool, error)
}

// Contribution is the input of a single ledger commit.
type Contribution struct {
	BuilderID string
	PlanetID  string
	OwnerID   string
	Amount    int64
	At        time.Time
}

// Ledger applies balance changes atomically.
type Ledger interface {
	// Contribute debits the builder, credits the planet and its owner and
	// appends a BuildRecord, all in one transaction.
	Contribute(ctx context.Context, c Contribution) (*model.BuildRecord, error)

	// Grant credits amount owned dust to an account.
	Grant(ctx context.Context, accountID string, amount int64) error

	ListBuildsByPlanet(ctx context.Context, planetID string) ([]model.BuildRecord, error)
}
