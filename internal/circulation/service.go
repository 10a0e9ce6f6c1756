// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"libracirc/internal/calendar"
)

// Service defines the interface for the circulation engine.
type Service interface {
	CreateLoan(ctx context.Context, req LoanRequest) (*Loan, error)
	ReturnLoan(ctx context.Context, loanID uuid.UUID, returnDate calendar.Date) (*ReturnResult, error)
	ReclassifyOverdue(ctx context.Context, asOf calendar.Date) ([]LoanDetail, error)
	ExtendLoan(ctx context.Context, loanID uuid.UUID, extraDays int) (*Loan, error)
	CanBorrow(ctx context.Context, memberID uuid.UUID) (bool, error)

	GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	LoanHistory(ctx context.Context, filter LoanFilter) ([]Loan, error)
	CurrentLoans(ctx context.Context, memberID uuid.UUID) ([]LoanDetail, error)
	Statistics(ctx context.Context) (*Stats, error)
	VerifyInventory(ctx context.Context) ([]Drift, error)
}
