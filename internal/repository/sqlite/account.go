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
)

const accountColumns = `id, username, email, git_account, github_link, avatar, password_hash,
	owned_dust, planet_dust_sum, gift_addr, invitation_code, created_at, updated_at`

// CreateAccount inserts a new account, generating its ID.
//
// A UNIQUE violation on username, email or git_account comes back as an
// apperror Conflict with Field set to the offending column, so the service
// can report which value was taken.
func (db *DB) CreateAccount(ctx context.Context, a *model.Account) error {
	a.ID = xid.New().String()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Username,
		nullString(a.Email),
		nullString(a.GitAccount),
		a.GitHubLink,
		a.Avatar,
		a.PasswordHash,
		a.OwnedDust,
		a.PlanetDustSum,
		a.GiftAddr,
		a.InvitationCode,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if column, ok := uniqueViolation(err); ok {
			return apperror.Duplicate(column, fmt.Sprintf("%s is already taken", column)).
				WithCode(apperror.CodeDuplicateAccount)
		}
		return fmt.Errorf("sqlite: inserting account %q: %w", a.Username, err)
	}

	return nil
}

// GetAccountByID retrieves an account by its internal ID.
// Returns apperror.ErrNotFound if no account exists with that ID.
func (db *DB) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, db.conn, "id", id)
}

func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return getAccount(ctx, db.conn, "username", username)
}

func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return getAccount(ctx, db.conn, "email", email)
}

// GetAccountByGitAccount looks an account up by its linked GitHub login.
func (db *DB) GetAccountByGitAccount(ctx context.Context, login string) (*model.Account, error) {
	return getAccount(ctx, db.conn, "git_account", login)
}

// UpdatePassword overwrites the stored bcrypt hash and stamps updated_at with at.
func (db *DB) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash,
		at.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("account", id)
	}

	return nil
}

// getAccount runs a single-row lookup on one of the account's unique columns.
// column is always a constant chosen by this package, never user input.
func getAccount(ctx context.Context, q dbx.DBTX, column, value string) (*model.Account, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+column+` = ?`,
		value,
	)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", value)
		}
		return nil, fmt.Errorf("sqlite: getting account by %s: %w", column, err)
	}
	return a, nil
}

func scanAccount(row scanner) (*model.Account, error) {
	var (
		a          model.Account
		email      sql.NullString
		gitAccount sql.NullString
	)
	err := row.Scan(
		&a.ID,
		&a.Username,
		&email,
		&gitAccount,
		&a.GitHubLink,
		&a.Avatar,
		&a.PasswordHash,
		&a.OwnedDust,
		&a.PlanetDustSum,
		&a.GiftAddr,
		&a.InvitationCode,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Email = email.String
	a.GitAccount = gitAccount.String
	return &a, nil
}
