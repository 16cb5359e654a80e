package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/clock"
	"github.com/sakif/dust/internal/metrics"
	"github.com/sakif/dust/internal/model"
	"github.com/sakif/dust/internal/repository"
)

const (
	// PlanetBonus is credited to a planet and its owner on first setup.
	PlanetBonus      int64 = 100
	DefaultListLimit       = 20
	MaxListLimit           = 100
)

// PlanetInput is the form behind POST /planet/setup. An empty ID creates a
// planet; a set ID updates that planet.
type PlanetInput struct {
	ID          string
	Name        string
	Email       string
	Keywords    string
	Description string
	DemoURL     string
	GithubURL   string
	TeamIntro   string
}

// PlanetService creates, edits and lists planets.
type PlanetService struct {
	planets repository.PlanetRepository
	ledger  repository.Ledger
	clock   clock.Clock
	logger  *slog.Logger
}

func NewPlanetService(planets repository.PlanetRepository, ledger repository.Ledger, clk clock.Clock, logger *slog.Logger) *PlanetService {
	return &PlanetService{
		planets: planets,
		ledger:  ledger,
		clock:   clk,
		logger:  logger,
	}
}

// SetupPlanet creates a planet for ownerID or, when in.ID is set, updates it.
// created reports which of the two happened.
//
// Creation credits PlanetBonus to both the planet and its owner in one
// transaction. Updates never touch balances or status.
func (s *PlanetService) SetupPlanet(ctx context.Context, ownerID string, in PlanetInput) (planet *model.Planet, created bool, err error) {
	in = trimPlanetInput(in)
	if err := validatePlanetInput(in); err != nil {
		return nil, false, err
	}

	var existing *model.Planet
	if in.ID != "" {
		existing, err = s.planets.GetPlanetByID(ctx, in.ID)
		if err != nil {
			return nil, false, err
		}
		if existing.OwnerID != ownerID {
			return nil, false, apperror.Forbidden("only the planet owner can edit it")
		}
	}

	if err := s.checkUnique(ctx, in); err != nil {
		return nil, false, err
	}

	if existing != nil {
		existing.Name = in.Name
		existing.Email = in.Email
		existing.Keywords = in.Keywords
		existing.Description = in.Description
		existing.DemoURL = in.DemoURL
		existing.GithubURL = in.GithubURL
		existing.TeamIntro = in.TeamIntro
		existing.UpdatedAt = s.clock.Now()

		if err := s.planets.UpdatePlanetDetails(ctx, existing); err != nil {
			return nil, false, err
		}
		s.logger.Info("planet updated",
			slog.String("planetID", existing.ID),
			slog.String("name", existing.Name),
		)
		return existing, false, nil
	}

	planet = &model.Planet{
		OwnerID:     ownerID,
		Name:        in.Name,
		Email:       in.Email,
		Keywords:    in.Keywords,
		Description: in.Description,
		DemoURL:     in.DemoURL,
		GithubURL:   in.GithubURL,
		TeamIntro:   in.TeamIntro,
		DustNum:     PlanetBonus,
		Status:      model.PlanetActive,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.planets.CreatePlanetWithBonus(ctx, planet, PlanetBonus); err != nil {
		return nil, false, err
	}

	metrics.RecordGrant("planet_bonus", PlanetBonus)
	s.logger.Info("planet created",
		slog.String("planetID", planet.ID),
		slog.String("name", planet.Name),
		slog.String("ownerID", ownerID),
	)
	return planet, true, nil
}

// GetPlanet looks a planet up by its unique name.
func (s *PlanetService) GetPlanet(ctx context.Context, name string) (*model.Planet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "planet name is required")
	}
	return s.planets.GetPlanetByName(ctx, name)
}

// ListPlanets returns planets newest first. limit is clamped to 1-100
// (default 20) and a negative offset is treated as 0.
func (s *PlanetService) ListPlanets(ctx context.Context, limit, offset int) ([]model.Planet, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	planets, err := s.planets.ListPlanets(ctx, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list planets", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing planets: %w", err)
	}
	return planets, nil
}

// ListBuilds returns the build records of the named planet, oldest first.
func (s *PlanetService) ListBuilds(ctx context.Context, planetName string) ([]model.BuildRecord, error) {
	planet, err := s.GetPlanet(ctx, planetName)
	if err != nil {
		return nil, err
	}

	builds, err := s.ledger.ListBuildsByPlanet(ctx, planet.ID)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	return builds, nil
}

// checkUnique reports the first of name, demo_url, github_url already used
// by a planet other than in.ID.
func (s *PlanetService) checkUnique(ctx context.Context, in PlanetInput) error {
	checks := []struct {
		column, value, code, label string
	}{
		{"name", in.Name, apperror.CodeDuplicatePlanetName, "planet name"},
		{"demo_url", in.DemoURL, apperror.CodeDuplicatePlanetDemo, "demo URL"},
		{"github_url", in.GithubURL, apperror.CodeDuplicatePlanetGithub, "GitHub URL"},
	}

	for _, c := range checks {
		taken, err := s.planets.PlanetFieldTaken(ctx, c.column, c.value, in.ID)
		if err != nil {
			return fmt.Errorf("checking planet %s: %w", c.column, err)
		}
		if taken {
			return apperror.Duplicate(c.column, fmt.Sprintf("a planet with this %s already exists", c.label)).
				WithCode(c.code)
		}
	}
	return nil
}

func trimPlanetInput(in PlanetInput) PlanetInput {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Keywords = strings.TrimSpace(in.Keywords)
	in.Description = strings.TrimSpace(in.Description)
	in.DemoURL = strings.TrimSpace(in.DemoURL)
	in.GithubURL = strings.TrimSpace(in.GithubURL)
	in.TeamIntro = strings.TrimSpace(in.TeamIntro)
	return in
}

func validatePlanetInput(in PlanetInput) error {
	if err := validateLength("name", in.Name, MaxPlanetName); err != nil {
		return err
	}
	if err := validateEmail("email", in.Email); err != nil {
		return err
	}
	if err := validateLength("keywords", in.Keywords, MaxKeywords); err != nil {
		return err
	}
	if in.Description == "" {
		return apperror.ValidationFailed("description", "description is required")
	}
	if err := validateHTTPURL("demo_url", in.DemoURL); err != nil {
		return err
	}
	return validateHTTPURL("github_url", in.GithubURL)
}
