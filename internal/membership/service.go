// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libracirc/internal/calendar"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterMember(ctx context.Context, email, name string, maxLoans int) (*Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	Suspend(ctx context.Context, id uuid.UUID) (*Member, error)
	Reinstate(ctx context.Context, id uuid.UUID) (*Member, error)
	SetMaxLoans(ctx context.Context, id uuid.UUID, maxLoans int) (*Member, error)
}

// Directory answers the eligibility questions the circulation engine asks
// inside its own transaction.
type Directory interface {
	// GetBorrower reads the member row and locks it for the rest of the
	// transaction where the driver supports row locks.
	GetBorrower(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Member, error)

	// HasOverdueLoans reports whether the member holds a loan that is
	// overdue, or still borrowed with a due date before asOf.
	HasOverdueLoans(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, asOf calendar.Date) (bool, error)

	// ActiveLoanCount counts the member's borrowed and overdue loans.
	ActiveLoanCount(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (int, error)
}
