// internal/storage/storage.go
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

const (
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
	DriverSQLite   = "sqlite"
)

func init() {
	// sqlx knows "sqlite3" but not the pure Go driver's name.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open connects to the database, applies connection settings for the
// driver and creates the schema if it does not exist yet.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverPostgres, DriverPGX:
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := applySchema(ctx, db, postgresSchema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database file.
//
// SQLite allows a single writer, so the pool is limited to one connection:
// transactions queue on the pool instead of failing with SQLITE_BUSY.
func OpenSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if err := applySchema(ctx, db, sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func applySchema(ctx context.Context, db *sqlx.DB, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside a read-committed (or stronger) transaction. The
// transaction is rolled back when fn returns an error, panics, or ctx is
// cancelled before commit.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: isolationFor(db.DriverName())})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isolationFor(driver string) sql.IsolationLevel {
	if driver == DriverSQLite {
		// SQLite transactions are serializable; the driver rejects named levels.
		return sql.LevelDefault
	}
	return sql.LevelReadCommitted
}

// ForUpdate returns the row lock clause for drivers that support it.
// SQLite serializes writers, so it needs none.
func ForUpdate(q sqlx.ExtContext) string {
	if q.DriverName() == DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// Dialect returns the goqu dialect name for the driver behind q.
func Dialect(q sqlx.ExtContext) string {
	if q.DriverName() == DriverSQLite {
		return "sqlite3"
	}
	return "postgres"
}

// Savepoint runs fn inside a named savepoint of the current transaction.
// A failure inside fn only undoes fn's own statements, which is what lets a
// transaction carry on after a constraint violation on Postgres.
func Savepoint(ctx context.Context, tx sqlx.ExtContext, name string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint %s: %w", name, rbErr))
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique constraint violation
// from any of the supported drivers.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}

// IsCheckViolation reports whether err is a CHECK constraint violation.
func IsCheckViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23514"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "CHECK")
		}
	}
	return false
}
