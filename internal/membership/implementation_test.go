package membership

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/calendar"
	"libracirc/internal/eventstore"
	"libracirc/internal/storage"
)

func setupStore(t *testing.T) (*Store, *sqlx.DB) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "membership.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(eventstore.NewEventStore(), db), db
}

// insertLoan writes a loan row directly so eligibility queries have data to
// count without pulling in the circulation engine.
func insertLoan(t *testing.T, db *sqlx.DB, memberID uuid.UUID, status string, due calendar.Date) {
	t.Helper()
	itemID := uuid.New()
	_, err := db.Exec(db.Rebind(`
		INSERT INTO items (id, isbn, title, author, total_copies, available, status)
		VALUES (?, 'isbn', 'title', 'author', 1, 0, 'active')
	`), itemID)
	require.NoError(t, err)

	var returned any
	if status == "returned" {
		returned = due
	}
	_, err = db.Exec(db.Rebind(`
		INSERT INTO loans (id, code, member_id, item_id, loan_date, due_date, return_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), uuid.New(), uuid.NewString(), memberID, itemID, due.AddDays(-14), due, returned, status)
	require.NoError(t, err)
}

func TestRegisterAndGetMember(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	member, err := store.RegisterMember(ctx, "ada@example.com", "Ada Lovelace", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, member.Status)

	got, err := store.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.Name)
	assert.Equal(t, 3, got.MaxLoans)
	assert.True(t, got.Active())

	events, err := store.eventStore.LoadEvents(ctx, db, member.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "MemberRegistered", events[0].EventType)
}

func TestRegisterMemberRejects(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, err := store.RegisterMember(ctx, "not-an-email", "Name", 0)
	assert.ErrorIs(t, err, ErrInvalidMember)

	_, err = store.RegisterMember(ctx, "a@example.com", "", 0)
	assert.ErrorIs(t, err, ErrInvalidMember)

	_, err = store.RegisterMember(ctx, "a@example.com", "Name", 0)
	require.NoError(t, err)
	_, err = store.RegisterMember(ctx, "a@example.com", "Other", 0)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestGetMemberNotFound(t *testing.T) {
	store, db := setupStore(t)

	_, err := store.GetMember(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetBorrower(context.Background(), db, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSuspendAndReinstate(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	member, err := store.RegisterMember(ctx, "grace@example.com", "Grace Hopper", 0)
	require.NoError(t, err)

	suspended, err := store.Suspend(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, suspended.Status)
	assert.Equal(t, 2, suspended.Version)

	again, err := store.Suspend(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Version, "suspending twice is a no-op")

	reinstated, err := store.Reinstate(ctx, member.ID)
	require.NoError(t, err)
	assert.True(t, reinstated.Active())

	events, err := store.eventStore.LoadEvents(ctx, db, member.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestSetMaxLoans(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	member, err := store.RegisterMember(ctx, "alan@example.com", "Alan Turing", 0)
	require.NoError(t, err)

	updated, err := store.SetMaxLoans(ctx, member.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MaxLoans)

	_, err = store.SetMaxLoans(ctx, member.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidMember)

	_, err = store.SetMaxLoans(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasOverdueLoans(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	asOf := calendar.MustParse("2024-02-01")

	tests := []struct {
		name   string
		status string
		due    calendar.Date
		want   bool
	}{
		{"no loans", "", calendar.Date{}, false},
		{"borrowed and not yet due", "borrowed", asOf.AddDays(3), false},
		{"borrowed and due today", "borrowed", asOf, false},
		{"borrowed past due", "borrowed", asOf.AddDays(-1), true},
		{"already reclassified", "overdue", asOf.AddDays(-10), true},
		{"returned late", "returned", asOf.AddDays(-10), false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			member, err := store.RegisterMember(ctx, uuid.NewString()+"@example.com", "Member", 0)
			require.NoError(t, err, "case %d", i)
			if tt.status != "" {
				insertLoan(t, db, member.ID, tt.status, tt.due)
			}

			got, err := store.HasOverdueLoans(ctx, db, member.ID, asOf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActiveLoanCount(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	member, err := store.RegisterMember(ctx, "linus@example.com", "Linus", 0)
	require.NoError(t, err)
	due := calendar.MustParse("2024-03-01")

	insertLoan(t, db, member.ID, "borrowed", due)
	insertLoan(t, db, member.ID, "overdue", due)
	insertLoan(t, db, member.ID, "returned", due)

	count, err := store.ActiveLoanCount(ctx, db, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
