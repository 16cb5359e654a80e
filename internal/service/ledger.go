package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/clock"
	"github.com/sakif/dust/internal/metrics"
	"github.com/sakif/dust/internal/model"
	"github.com/sakif/dust/internal/repository"
)

// FundingWindow is how long a planet accepts contributions after creation.
const FundingWindow = 30 * 24 * time.Hour

var tracer = otel.Tracer("github.com/sakif/dust/internal/service")

// LedgerService moves dust between accounts and planets.
type LedgerService struct {
	accounts repository.AccountRepository
	planets  repository.PlanetRepository
	ledger   repository.Ledger
	clock    clock.Clock
	window   time.Duration
	logger   *slog.Logger
}

func NewLedgerService(
	accounts repository.AccountRepository,
	planets repository.PlanetRepository,
	ledger repository.Ledger,
	clk clock.Clock,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		accounts: accounts,
		planets:  planets,
		ledger:   ledger,
		clock:    clk,
		window:   FundingWindow,
		logger:   logger,
	}
}

// Contribute moves amount dust from contributorID to the named planet.
//
// Checks run in this order and the first failure wins:
//
//  1. amount must be positive
//  2. the planet must exist
//  3. the contributor must own at least amount
//  4. the planet's funding window must be open
//
// A planet found past its window is flipped to unshelved (once; the update
// only matches active planets) before the contribution is refused. The
// balance changes themselves run in one repository transaction, which
// re-checks the balance and the status so concurrent callers stay consistent.
func (s *LedgerService) Contribute(ctx context.Context, contributorID, planetName string, amount int64) (record *model.BuildRecord, err error) {
	ctx, span := tracer.Start(ctx, "LedgerService.Contribute")
	span.SetAttributes(
		attribute.String("dust.planet", planetName),
		attribute.Int64("dust.amount", amount),
	)
	defer func() {
		result := "ok"
		if err != nil {
			result = contributionResult(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		metrics.RecordContribution(result, amount)
		span.End()
	}()

	if amount <= 0 {
		return nil, apperror.ValidationFailed("dust_num", "dust_num must be at least 1")
	}

	planet, err := s.planets.GetPlanetByName(ctx, planetName)
	if err != nil {
		return nil, err
	}

	contributor, err := s.accounts.GetAccountByID(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	if amount > contributor.OwnedDust {
		return nil, apperror.InsufficientBalance(contributor.OwnedDust, amount)
	}

	now := s.clock.Now()
	if planet.FundingWindowClosed(now, s.window) {
		if planet.Status == model.PlanetActive {
			flipped, err := s.planets.MarkUnshelved(ctx, planet.ID, now)
			if err != nil {
				return nil, err
			}
			if flipped {
				metrics.RecordUnshelved()
				s.logger.Info("planet funding window closed",
					slog.String("planetID", planet.ID),
					slog.String("name", planet.Name),
				)
			}
		}
		return nil, apperror.State(apperror.CodeFundingWindowExpired,
			"build timeout: the planet is no longer accepting dust")
	}

	record, err = s.ledger.Contribute(ctx, repository.Contribution{
		BuilderID: contributorID,
		PlanetID:  planet.ID,
		OwnerID:   planet.OwnerID,
		Amount:    amount,
		At:        now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("dust contributed",
		slog.String("builderID", contributorID),
		slog.String("planetID", planet.ID),
		slog.Int64("amount", amount),
		slog.Int64("planetDust", record.PlanetDust),
	)
	return record, nil
}

// Grant credits amount owned dust to accountID. Used by operators through
// the CLI.
func (s *LedgerService) Grant(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return apperror.ValidationFailed("amount", "amount must be at least 1")
	}
	if err := s.ledger.Grant(ctx, accountID, amount); err != nil {
		return fmt.Errorf("granting dust: %w", err)
	}

	metrics.RecordGrant("manual", amount)
	s.logger.Info("dust granted",
		slog.String("accountID", accountID),
		slog.Int64("amount", amount),
	)
	return nil
}

// contributionResult names a failed contribution for metrics and traces.
func contributionResult(err error) string {
	if code := apperror.CodeOf(err); code != "" {
		return code
	}
	if errors.Is(err, apperror.ErrValidation) {
		return "invalid"
	}
	if errors.Is(err, apperror.ErrNotFound) {
		return "not_found"
	}
	return "error"
}
