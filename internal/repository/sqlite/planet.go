package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/dust/internal/apperror"
	"github.com/sakif/dust/internal/dbx"
	"github.com/sakif/dust/internal/model"
	"github.com/sakif/dust/internal/repository"
)

const planetColumns = `id, owner_id, name, email, keywords, description, demo_url, github_url,
	team_intro, dust_num, builder_num, status, created_at, updated_at`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// planetUniqueColumns maps each unique planet column to its duplicate code.
// PlanetFieldTaken only accepts these keys, so they are safe to splice into SQL.
var planetUniqueColumns = map[string]string{
	"name":       apperror.CodeDuplicatePlanetName,
	"demo_url":   apperror.CodeDuplicatePlanetDemo,
	"github_url": apperror.CodeDuplicatePlanetGithub,
}

func (db *DB) GetPlanetByID(ctx context.Context, id string) (*model.Planet, error) {
	return getPlanet(ctx, db.conn, "id", id)
}

func (db *DB) GetPlanetByName(ctx context.Context, name string) (*model.Planet, error) {
	return getPlanet(ctx, db.conn, "name", name)
}

// ListPlanets returns planets newest first.
func (db *DB) ListPlanets(ctx context.Context, opts repository.ListOptions) ([]model.Planet, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+planetColumns+`
		 FROM planets
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing planets: %w", err)
	}
	defer rows.Close()

	planets := make([]model.Planet, 0, limit)
	for rows.Next() {
		p, err := scanPlanet(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning planet row: %w", err)
		}
		planets = append(planets, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating planets: %w", err)
	}

	return planets, nil
}

// PlanetFieldTaken reports whether a planet other than excludeID already
// uses value in column.
func (db *DB) PlanetFieldTaken(ctx context.Context, column, value, excludeID string) (bool, error) {
	if _, ok := planetUniqueColumns[column]; !ok {
		return false, fmt.Errorf("sqlite: %q is not a unique planet column", column)
	}

	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM planets WHERE `+column+` = ? AND id != ?)`,
		value,
		excludeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking planet %s: %w", column, err)
	}
	return exists, nil
}

// CreatePlanetWithBonus inserts the planet and credits the owner's owned and
// received balances with bonus, atomically.
//
// The service checks uniqueness up front for friendly errors, but two setups
// can race; the UNIQUE constraints are the real guard and a violation here
// is reported with the same duplicate code the service would have used.
func (db *DB) CreatePlanetWithBonus(ctx context.Context, p *model.Planet, bonus int64) error {
	p.ID = xid.New().String()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	if p.Status == "" {
		p.Status = model.PlanetActive
	}

	return db.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO planets (`+planetColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID,
			p.OwnerID,
			p.Name,
			p.Email,
			p.Keywords,
			p.Description,
			p.DemoURL,
			p.GithubURL,
			p.TeamIntro,
			p.DustNum,
			p.BuilderNum,
			p.Status,
			p.CreatedAt,
			p.UpdatedAt,
		)
		if err != nil {
			if column, ok := uniqueViolation(err); ok {
				return duplicatePlanetField(column)
			}
			return fmt.Errorf("sqlite: inserting planet %q: %w", p.Name, err)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE accounts
			 SET owned_dust = owned_dust + ?, planet_dust_sum = planet_dust_sum + ?, updated_at = ?
			 WHERE id = ?`,
			bonus,
			bonus,
			p.CreatedAt,
			p.OwnerID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: crediting planet bonus to %s: %w", p.OwnerID, err)
		}
		return requireOneRow(result, apperror.NotFound("account", p.OwnerID))
	})
}

// UpdatePlanetDetails rewrites the descriptive fields of an existing planet.
// A zero UpdatedAt is stamped with the current time.
func (db *DB) UpdatePlanetDetails(ctx context.Context, p *model.Planet) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE planets
		 SET name = ?, email = ?, keywords = ?, description = ?, demo_url = ?,
		     github_url = ?, team_intro = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name,
		p.Email,
		p.Keywords,
		p.Description,
		p.DemoURL,
		p.GithubURL,
		p.TeamIntro,
		p.UpdatedAt,
		p.ID,
	)
	if err != nil {
		if column, ok := uniqueViolation(err); ok {
			return duplicatePlanetField(column)
		}
		return fmt.Errorf("sqlite: updating planet %s: %w", p.ID, err)
	}
	return requireOneRow(result, apperror.NotFound("planet", p.ID).WithCode(apperror.CodePlanetNotFound))
}

// MarkUnshelved closes the planet's funding window. Only an active planet
// transitions, so concurrent callers flip it exactly once. at becomes the
// planet's updated_at.
func (db *DB) MarkUnshelved(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE planets SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		model.PlanetUnshelved,
		at.UTC(),
		id,
		model.PlanetActive,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: unshelving planet %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}

func getPlanet(ctx context.Context, q dbx.DBTX, column, value string) (*model.Planet, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+planetColumns+` FROM planets WHERE `+column+` = ?`,
		value,
	)

	p, err := scanPlanet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("planet", value).WithCode(apperror.CodePlanetNotFound)
		}
		return nil, fmt.Errorf("sqlite: getting planet by %s: %w", column, err)
	}
	return p, nil
}

func scanPlanet(row scanner) (*model.Planet, error) {
	var p model.Planet
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&p.Email,
		&p.Keywords,
		&p.Description,
		&p.DemoURL,
		&p.GithubURL,
		&p.TeamIntro,
		&p.DustNum,
		&p.BuilderNum,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func duplicatePlanetField(column string) error {
	code, ok := planetUniqueColumns[column]
	if !ok {
		code = apperror.CodeDuplicatePlanetName
	}
	return apperror.Duplicate(column, fmt.Sprintf("a planet with this %s already exists", column)).WithCode(code)
}

// requireOneRow returns notFound when the statement touched no rows.
func requireOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
