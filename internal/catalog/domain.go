// internal/catalog/domain.go
package catalog

import (
	"errors"

	"github.com/google/uuid"

	"libracirc/internal/storage"
)

const (
	StatusActive  = "active"
	StatusRetired = "retired"
)

var (
	// ErrNotFound is returned when no item has the requested ID.
	ErrNotFound = errors.New("item not found")

	// ErrUnavailable is returned by Reserve when no copy is left to lend.
	ErrUnavailable = errors.New("no copy available")

	// ErrInconsistentState is returned by Release when the increment would
	// push available copies past the total. It means a double return or
	// corrupted counters and needs an operator; it is never corrected here.
	ErrInconsistentState = errors.New("inventory counters inconsistent")

	// ErrCopiesOnLoan is returned when a change would drop copies that are
	// currently lent out.
	ErrCopiesOnLoan = errors.New("copies are on loan")

	// ErrInvalidItem is returned for malformed item data.
	ErrInvalidItem = errors.New("invalid item")
)

// Item represents a book or other library item.
type Item struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	ISBN        string            `json:"isbn" db:"isbn"`
	Title       string            `json:"title" db:"title"`
	Author      string            `json:"author" db:"author"`
	TotalCopies int               `json:"total_copies" db:"total_copies"`
	Available   int               `json:"available" db:"available"`
	Status      string            `json:"status" db:"status"`
	Version     int               `json:"version" db:"version"`
	CreatedAt   storage.Timestamp `json:"created_at" db:"created_at"`
	UpdatedAt   storage.Timestamp `json:"updated_at" db:"updated_at"`
}

// OnLoan is the number of copies currently lent out.
func (i *Item) OnLoan() int {
	return i.TotalCopies - i.Available
}

// ItemAddedEvent is journaled when a new item is added.
type ItemAddedEvent struct {
	ID          uuid.UUID `json:"id"`
	ISBN        string    `json:"isbn"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	TotalCopies int       `json:"total_copies"`
}

// ItemCopiesUpdatedEvent is journaled when the number of copies changes.
type ItemCopiesUpdatedEvent struct {
	ID           uuid.UUID `json:"id"`
	NewTotal     int       `json:"new_total"`
	NewAvailable int       `json:"new_available"`
}

// ItemRemovedEvent is journaled when an item is retired from the catalog.
type ItemRemovedEvent struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}
