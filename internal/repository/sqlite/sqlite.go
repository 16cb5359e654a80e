// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no CGo, no C compiler, cross-compiles
// like any other Go package.
//
// CONNECTION POOL:
// SQLite allows one writer at a time. We cap the pool at a single connection,
// which serialises every statement and transaction in-process. Two things
// follow from that:
//   - ":memory:" databases stay coherent (each new connection would otherwise
//     see its own empty database)
//   - code running inside dbx.WithTx must only use the tx handle, never db.conn
//
// SCHEMA:
// Migrations live in ./migrations as goose SQL files, embedded into the binary
// and applied by New (or explicitly by `dust migrate`).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/dust/internal/dbx"
	"github.com/sakif/dust/internal/repository"
	"github.com/sakif/dust/internal/repository/sqlite/migrations"
)

// compile-time checks that *DB implements every repository contract
var (
	_ repository.AccountRepository = (*DB)(nil)
	_ repository.PlanetRepository  = (*DB)(nil)
	_ repository.Ledger            = (*DB)(nil)
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and applies all pending migrations.
//
// dbPath examples:
//   - "data/dust.db"  → file-based database (persistent)
//   - ":memory:"      → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Open opens the database without touching the schema.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an existing pool. The schema is assumed to exist.
// Used with sqlmock in tests.
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Migrate applies every pending goose migration.
func (db *DB) Migrate(ctx context.Context) error {
	if err := setupGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.conn, "."); err != nil {
		return fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the version of the last applied migration.
func (db *DB) SchemaVersion(ctx context.Context) (int64, error) {
	if err := setupGoose(); err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersionContext(ctx, db.conn)
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading schema version: %w", err)
	}
	return v, nil
}

func setupGoose() error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("sqlite: goose dialect: %w", err)
	}
	return nil
}

func (db *DB) withTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return dbx.WithTx(ctx, db.conn, nil, fn)
}

// uniqueViolation returns the column named by a UNIQUE constraint failure,
// e.g. "username" for "UNIQUE constraint failed: accounts.username".
// ok is false when err is not a UNIQUE violation.
func uniqueViolation(err error) (column string, ok bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return "", false
	}
	msg := sqliteErr.Error()
	if i := strings.LastIndex(msg, "."); i >= 0 {
		column = msg[i+1:]
		if j := strings.IndexAny(column, " ()"); j >= 0 {
			column = column[:j]
		}
	}
	return column, true
}

// nullString maps "" to NULL so optional UNIQUE columns stay unconstrained.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
