package sqlite

import (
	"context"
	"fmt"

	"github.com/rs/xid"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/dbx"
	"github.com/sakif/dust/internal/model"
	"github.com/sakif/dust/internal/repository"
)

// Contribute applies one contribution as a single transaction:
//
//  1. debit the builder, only if the balance covers the amount
//  2. credit the planet and bump its builder count, only while it is active
//  3. credit the owner's received balance
//  4. read back the planet total and append the build record
//
// Every balance change is an in-SQL increment guarded by its WHERE clause,
// never a read-modify-write in Go, so concurrent contributions cannot lose
// updates. If any step fails the whole transaction rolls back.
func (db *DB) Contribute(ctx context.Context, c repository.Contribution) (*model.BuildRecord, error) {
	if c.Amount <= 0 {
		return nil, apperror.ValidationFailed("dust_num", "dust_num must be at least 1")
	}

	record := &model.BuildRecord{
		ID:        xid.New().String(),
		BuilderID: c.BuilderID,
		PlanetID:  c.PlanetID,
		DustNum:   c.Amount,
		CreatedAt: c.At.UTC(),
	}

	err := db.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		// === 1. DEBIT ===
		result, err := tx.ExecContext(ctx,
			`UPDATE accounts SET owned_dust = owned_dust - ?, updated_at = ?
			 WHERE id = ? AND owned_dust >= ?`,
			c.Amount, record.CreatedAt, c.BuilderID, c.Amount,
		)
		if err != nil {
			return fmt.Errorf("sqlite: debiting %s: %w", c.BuilderID, err)
		}
		debited, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if debited == 0 {
			var have int64
			if err := tx.QueryRowContext(ctx,
				`SELECT owned_dust FROM accounts WHERE id = ?`, c.BuilderID,
			).Scan(&have); err != nil {
				return apperror.NotFound("account", c.BuilderID)
			}
			return apperror.InsufficientBalance(have, c.Amount)
		}

		// === 2. CREDIT PLANET ===
		result, err = tx.ExecContext(ctx,
			`UPDATE planets SET dust_num = dust_num + ?, builder_num = builder_num + 1, updated_at = ?
			 WHERE id = ? AND status = ?`,
			c.Amount, record.CreatedAt, c.PlanetID, model.PlanetActive,
		)
		if err != nil {
			return fmt.Errorf("sqlite: crediting planet %s: %w", c.PlanetID, err)
		}
		if err := requireOneRow(result, apperror.State(apperror.CodeFundingWindowExpired,
			"build timeout: the planet is no longer accepting dust")); err != nil {
			return err
		}

		// === 3. CREDIT OWNER ===
		result, err = tx.ExecContext(ctx,
			`UPDATE accounts SET planet_dust_sum = planet_dust_sum + ?, updated_at = ? WHERE id = ?`,
			c.Amount, record.CreatedAt, c.OwnerID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: crediting owner %s: %w", c.OwnerID, err)
		}
		if err := requireOneRow(result, apperror.NotFound("account", c.OwnerID)); err != nil {
			return err
		}

		// === 4. SNAPSHOT + RECORD ===
		if err := tx.QueryRowContext(ctx,
			`SELECT dust_num FROM planets WHERE id = ?`, c.PlanetID,
		).Scan(&record.PlanetDust); err != nil {
			return fmt.Errorf("sqlite: reading planet total %s: %w", c.PlanetID, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO build_records (id, builder_id, planet_id, dust_num, planet_dust, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			record.ID,
			record.BuilderID,
			record.PlanetID,
			record.DustNum,
			record.PlanetDust,
			record.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting build record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// Grant credits amount owned dust to an account.
func (db *DB) Grant(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return apperror.ValidationFailed("amount", "grant amount must be positive")
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET owned_dust = owned_dust + ? WHERE id = ?`,
		amount,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: granting %d dust to %s: %w", amount, accountID, err)
	}
	return requireOneRow(result, apperror.NotFound("account", accountID))
}

// ListBuildsByPlanet returns a planet's build records, oldest first.
func (db *DB) ListBuildsByPlanet(ctx context.Context, planetID string) ([]model.BuildRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, builder_id, planet_id, dust_num, planet_dust, created_at
		 FROM build_records
		 WHERE planet_id = ?
		 ORDER BY created_at ASC, id ASC`,
		planetID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing builds for %s: %w", planetID, err)
	}
	defer rows.Close()

	records := []model.BuildRecord{}
	for rows.Next() {
		var r model.BuildRecord
		if err := rows.Scan(&r.ID, &r.BuilderID, &r.PlanetID, &r.DustNum, &r.PlanetDust, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning build record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating build records: %w", err)
	}

	return records, nil
}
