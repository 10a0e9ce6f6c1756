package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "storage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenSQLiteAppliesSchema(t *testing.T) {
	db := openTestDB(t)

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('items', 'members', 'loans', 'events') ORDER BY name`))
	assert.Equal(t, []string{"events", "items", "loans", "members"}, tables)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithTx(ctx, db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO members (id, email, name) VALUES ('m1', 'a@example.com', 'A')`)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM members`))
	assert.Equal(t, 0, count)
}

func TestSavepointKeepsTransactionUsable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := WithTx(ctx, db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO members (id, email, name) VALUES ('m1', 'a@example.com', 'A')`); err != nil {
			return err
		}
		dup := Savepoint(ctx, tx, "dup", func() error {
			_, err := tx.ExecContext(ctx, `INSERT INTO members (id, email, name) VALUES ('m2', 'a@example.com', 'B')`)
			return err
		})
		assert.True(t, IsUniqueViolation(dup), "expected unique violation, got %v", dup)

		_, err := tx.ExecContext(ctx, `INSERT INTO members (id, email, name) VALUES ('m3', 'c@example.com', 'C')`)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM members`))
	assert.Equal(t, 2, count)
}

func TestCheckConstraintGuardsAvailableCopies(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`INSERT INTO items (id, isbn, title, author, total_copies, available) VALUES ('i1', 'x', 'T', 'A', 1, 2)`)
	require.Error(t, err)
	assert.True(t, IsCheckViolation(err))
	assert.False(t, IsUniqueViolation(err))
}

func TestIsUniqueViolationPostgresCodes(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23514"}))
	assert.True(t, IsCheckViolation(&pq.Error{Code: "23514"}))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
}

func TestDialectAndLockClause(t *testing.T) {
	db := openTestDB(t)
	assert.Equal(t, "sqlite3", Dialect(db))
	assert.Equal(t, "", ForUpdate(db))
}

func TestTimestampScan(t *testing.T) {
	var ts Timestamp

	require.NoError(t, ts.Scan("2024-01-10 09:30:00"))
	assert.Equal(t, 9, ts.Hour())

	require.NoError(t, ts.Scan([]byte("2024-01-10T09:30:00Z")))
	assert.Equal(t, 30, ts.Minute())

	require.NoError(t, ts.Scan("2024-01-10 09:30:00 +0000 UTC"))
	assert.Equal(t, 2024, ts.Year())

	assert.Error(t, ts.Scan("yesterday"))
	assert.Error(t, ts.Scan(3.5))
}
