// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libracirc/internal/eventstore"
	"libracirc/internal/storage"
)

const (
	aggregateType = "item"
	searchLimit   = 20
	itemColumns   = `id, isbn, title, author, total_copies, available, status, version, created_at, updated_at`
)

var (
	_ Service   = (*Store)(nil)
	_ Inventory = (*Store)(nil)
)

// Store implements Service and Inventory over the items table.
type Store struct {
	eventStore *eventstore.EventStore
	db         *sqlx.DB
	now        func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(es *eventstore.EventStore, db *sqlx.DB) *Store {
	return &Store{
		eventStore: es,
		db:         db,
		now:        time.Now,
	}
}

// AddItem creates a new item in the catalog with every copy available.
func (s *Store) AddItem(ctx context.Context, isbn, title, author string, totalCopies int) (*Item, error) {
	if strings.TrimSpace(title) == "" || totalCopies < 0 {
		return nil, fmt.Errorf("%w: title is required and total copies must not be negative", ErrInvalidItem)
	}

	now := s.now().UTC()
	item := &Item{
		ID:          uuid.New(),
		ISBN:        isbn,
		Title:       title,
		Author:      author,
		TotalCopies: totalCopies,
		Available:   totalCopies,
		Status:      StatusActive,
		Version:     1,
		CreatedAt:   storage.Timestamp{Time: now},
		UpdatedAt:   storage.Timestamp{Time: now},
	}

	event, err := eventstore.NewEvent("ItemAdded", ItemAddedEvent{
		ID:          item.ID,
		ISBN:        isbn,
		Title:       title,
		Author:      author,
		TotalCopies: totalCopies,
	})
	if err != nil {
		return nil, err
	}

	err = storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO items (id, isbn, title, author, total_copies, available, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if _, err := tx.ExecContext(ctx, query, item.ID, item.ISBN, item.Title, item.Author, item.TotalCopies, item.Available, item.Status, item.Version, now, now); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		return s.eventStore.AppendEvents(ctx, tx, item.ID, aggregateType, 0, event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add item: %w", err)
	}
	return item, nil
}

// GetItem retrieves an item from the catalog by its ID.
func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.LookupItem(ctx, s.db, id)
}

// LookupItem reads an item through q, which may be a transaction.
func (s *Store) LookupItem(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Item, error) {
	return s.getItem(ctx, q, id, "")
}

func (s *Store) getItem(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, lock string) (*Item, error) {
	item := &Item{}
	query := q.Rebind(`SELECT ` + itemColumns + ` FROM items WHERE id = ?` + lock)
	if err := sqlx.GetContext(ctx, q, item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item with ID %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// AdjustCopies changes the total number of copies. Copies on loan stay on
// loan, so available moves by the same delta as the total.
func (s *Store) AdjustCopies(ctx context.Context, id uuid.UUID, newTotal int) (*Item, error) {
	if newTotal < 0 {
		return nil, fmt.Errorf("%w: total copies must not be negative", ErrInvalidItem)
	}

	var updated *Item
	err := storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		item, err := s.getItem(ctx, tx, id, storage.ForUpdate(tx))
		if err != nil {
			return err
		}
		onLoan := item.OnLoan()
		if newTotal < onLoan {
			return fmt.Errorf("%w: %d copies of %s are lent out", ErrCopiesOnLoan, onLoan, id)
		}
		newAvailable := newTotal - onLoan

		event, err := eventstore.NewEvent("ItemCopiesUpdated", ItemCopiesUpdatedEvent{
			ID:           id,
			NewTotal:     newTotal,
			NewAvailable: newAvailable,
		})
		if err != nil {
			return err
		}

		now := s.now().UTC()
		query := tx.Rebind(`
			UPDATE items
			SET total_copies = ?, available = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`)
		res, err := tx.ExecContext(ctx, query, newTotal, newAvailable, now, id, item.Version)
		if err != nil {
			return fmt.Errorf("update item copies: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update item copies: %w", err)
		} else if n == 0 {
			return eventstore.ErrConcurrencyConflict
		}

		if err := s.eventStore.AppendEvents(ctx, tx, id, aggregateType, item.Version, event); err != nil {
			return err
		}

		item.TotalCopies = newTotal
		item.Available = newAvailable
		item.Version++
		item.UpdatedAt = storage.Timestamp{Time: now}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveItem marks an item as retired. Items with copies on loan cannot be
// retired until they come back.
func (s *Store) RemoveItem(ctx context.Context, id uuid.UUID) error {
	return storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		item, err := s.getItem(ctx, tx, id, storage.ForUpdate(tx))
		if err != nil {
			return err
		}
		if item.OnLoan() > 0 {
			return fmt.Errorf("%w: %d copies of %s are lent out", ErrCopiesOnLoan, item.OnLoan(), id)
		}

		event, err := eventstore.NewEvent("ItemRemoved", ItemRemovedEvent{ID: id, Status: StatusRetired})
		if err != nil {
			return err
		}

		query := tx.Rebind(`
			UPDATE items
			SET status = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`)
		res, err := tx.ExecContext(ctx, query, StatusRetired, s.now().UTC(), id, item.Version)
		if err != nil {
			return fmt.Errorf("retire item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return eventstore.ErrConcurrencyConflict
		}
		return s.eventStore.AppendEvents(ctx, tx, id, aggregateType, item.Version, event)
	})
}

// Search finds active items whose title or author contains the query, or
// whose ISBN equals it.
func (s *Store) Search(ctx context.Context, query string) ([]*Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidItem)
	}
	pattern := "%" + strings.ToLower(query) + "%"

	items := []*Item{}
	dbQuery := s.db.Rebind(`
		SELECT ` + itemColumns + `
		FROM items
		WHERE status = ?
		AND (LOWER(title) LIKE ? OR LOWER(author) LIKE ? OR isbn = ?)
		ORDER BY title
		LIMIT ?
	`)
	if err := s.db.SelectContext(ctx, &items, dbQuery, StatusActive, pattern, pattern, query, searchLimit); err != nil {
		return nil, fmt.Errorf("database search failed: %w", err)
	}
	return items, nil
}

// Reserve takes one copy of an item. The check and the decrement are one
// statement, so concurrent borrowers cannot both pass a stale check. The
// item version is left alone: it tracks journaled catalog changes, and the
// loan journal already records every reservation.
func (s *Store) Reserve(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error {
	query := q.Rebind(`
		UPDATE items
		SET available = available - 1, updated_at = ?
		WHERE id = ? AND status = ? AND available > 0
	`)
	res, err := q.ExecContext(ctx, query, s.now().UTC(), id, StatusActive)
	if err != nil {
		return fmt.Errorf("reserve item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve item %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.LookupItem(ctx, q, id); err != nil {
		return err
	}
	return fmt.Errorf("item %s: %w", id, ErrUnavailable)
}

// Release returns one copy of an item. It refuses to go above the total.
func (s *Store) Release(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error {
	query := q.Rebind(`
		UPDATE items
		SET available = available + 1, updated_at = ?
		WHERE id = ? AND available < total_copies
	`)
	res, err := q.ExecContext(ctx, query, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("release item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release item %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	item, err := s.LookupItem(ctx, q, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("item %s has %d of %d copies available: %w", id, item.Available, item.TotalCopies, ErrInconsistentState)
}
