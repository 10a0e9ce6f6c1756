package circulation

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"libracirc/internal/calendar"
	"libracirc/internal/catalog"
	"libracirc/internal/eventstore"
	"libracirc/internal/membership"
	"libracirc/internal/storage"
)

// tb is what the fixture helpers need from *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
}

type fixture struct {
	db      *sqlx.DB
	journal *eventstore.EventStore
	catalog *catalog.Store
	members *membership.Store
	engine  *Engine
	today   calendar.Date
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "circulation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:      db,
		journal: eventstore.NewEventStore(),
		today:   calendar.MustParse("2024-01-01"),
	}
	f.catalog = catalog.NewService(f.journal, db)
	f.members = membership.NewService(f.journal, db)

	clock := f.today.Time().Add(10 * time.Hour)
	base := []Option{
		WithClock(func() time.Time { return clock }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.engine, err = NewEngine(db, f.catalog, f.members, f.journal, append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func (f *fixture) addItem(t tb, copies int) *catalog.Item {
	t.Helper()
	item, err := f.catalog.AddItem(context.Background(), "978000000000", "Item "+uuid.NewString()[:8], "Author", copies)
	require.NoError(t, err)
	return item
}

func (f *fixture) addMember(t tb, maxLoans int) *membership.Member {
	t.Helper()
	member, err := f.members.RegisterMember(context.Background(), uuid.NewString()+"@example.com", "Member", maxLoans)
	require.NoError(t, err)
	return member
}

func (f *fixture) borrow(t tb, memberID, itemID uuid.UUID, loanDate, dueDate calendar.Date) *Loan {
	t.Helper()
	loan, err := f.engine.CreateLoan(context.Background(), LoanRequest{
		MemberID: memberID,
		ItemID:   itemID,
		LoanDate: loanDate,
		DueDate:  dueDate,
	})
	require.NoError(t, err)
	return loan
}

func (f *fixture) available(t tb, itemID uuid.UUID) int {
	t.Helper()
	item, err := f.catalog.GetItem(context.Background(), itemID)
	require.NoError(t, err)
	return item.Available
}

func (f *fixture) loanCount(t tb) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.Get(&n, `SELECT COUNT(*) FROM loans`))
	return n
}

// requireConsistent checks both counter invariants for every item.
func (f *fixture) requireConsistent(t tb) {
	t.Helper()
	var outOfBounds int
	require.NoError(t, f.db.Get(&outOfBounds, `SELECT COUNT(*) FROM items WHERE available < 0 OR available > total_copies`))
	require.Zero(t, outOfBounds, "items with available outside [0, total]")

	drifts, err := f.engine.VerifyInventory(context.Background())
	require.NoError(t, err)
	require.Empty(t, drifts, "items whose available counter disagrees with active loans")
}
