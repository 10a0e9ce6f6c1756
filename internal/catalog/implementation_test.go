package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/eventstore"
	"libracirc/internal/storage"
)

func setupStore(t *testing.T) (*Store, *sqlx.DB) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(eventstore.NewEventStore(), db), db
}

func TestAddAndGetItem(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()

	item, err := store.AddItem(ctx, "9780141439518", "Pride and Prejudice", "Jane Austen", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Available)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pride and Prejudice", got.Title)
	assert.Equal(t, 5, got.TotalCopies)
	assert.Equal(t, 5, got.Available)
	assert.Equal(t, StatusActive, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	events, err := store.eventStore.LoadEvents(ctx, db, item.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ItemAdded", events[0].EventType)
}

func TestAddItemValidates(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.AddItem(context.Background(), "x", " ", "A", 1)
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = store.AddItem(context.Background(), "x", "T", "A", -1)
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestGetItemNotFound(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.GetItem(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReserveAndRelease(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	item, err := store.AddItem(ctx, "isbn", "Dune", "Frank Herbert", 1)
	require.NoError(t, err)

	require.NoError(t, store.Reserve(ctx, db, item.ID))
	assert.ErrorIs(t, store.Reserve(ctx, db, item.ID), ErrUnavailable)

	require.NoError(t, store.Release(ctx, db, item.ID))
	assert.ErrorIs(t, store.Release(ctx, db, item.ID), ErrInconsistentState)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Available)
}

func TestReserveUnknownItem(t *testing.T) {
	store, db := setupStore(t)

	assert.ErrorIs(t, store.Reserve(context.Background(), db, uuid.New()), ErrNotFound)
	assert.ErrorIs(t, store.Release(context.Background(), db, uuid.New()), ErrNotFound)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	item, err := store.AddItem(ctx, "isbn", "The Great Gatsby", "F. Scott Fitzgerald", 3)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := storage.WithTx(ctx, db, func(tx *sqlx.Tx) error {
				return store.Reserve(ctx, tx, item.ID)
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Available)
}

func TestAdjustCopiesKeepsLoansOut(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	item, err := store.AddItem(ctx, "isbn", "Emma", "Jane Austen", 3)
	require.NoError(t, err)
	require.NoError(t, store.Reserve(ctx, db, item.ID))
	require.NoError(t, store.Reserve(ctx, db, item.ID))

	updated, err := store.AdjustCopies(ctx, item.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 3, updated.Available)

	_, err = store.AdjustCopies(ctx, item.ID, 1)
	assert.ErrorIs(t, err, ErrCopiesOnLoan)

	_, err = store.AdjustCopies(ctx, item.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestRemoveItem(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	item, err := store.AddItem(ctx, "isbn", "Persuasion", "Jane Austen", 1)
	require.NoError(t, err)

	require.NoError(t, store.Reserve(ctx, db, item.ID))
	assert.ErrorIs(t, store.RemoveItem(ctx, item.ID), ErrCopiesOnLoan)

	require.NoError(t, store.Release(ctx, db, item.ID))
	require.NoError(t, store.RemoveItem(ctx, item.ID))

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRetired, got.Status)
	assert.ErrorIs(t, store.Reserve(ctx, db, item.ID), ErrUnavailable)
}

func TestSearch(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	_, err := store.AddItem(ctx, "9780141439518", "Pride and Prejudice", "Jane Austen", 1)
	require.NoError(t, err)
	_, err = store.AddItem(ctx, "9780743273565", "The Great Gatsby", "F. Scott Fitzgerald", 1)
	require.NoError(t, err)

	items, err := store.Search(ctx, "austen")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Pride and Prejudice", items[0].Title)

	items, err = store.Search(ctx, "9780743273565")
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = store.Search(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidItem)
}
