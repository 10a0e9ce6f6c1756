// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddItem(ctx context.Context, isbn, title, author string, totalCopies int) (*Item, error)
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	AdjustCopies(ctx context.Context, id uuid.UUID, newTotal int) (*Item, error)
	RemoveItem(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, query string) ([]*Item, error)
}

// Inventory is the set of counter primitives the circulation engine runs
// inside its own transaction. Available copies only change through these
// single-statement conditional updates.
type Inventory interface {
	LookupItem(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Item, error)
	Reserve(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error
	Release(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error
}
