// internal/circulation/domain.go
package circulation

import (
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libracirc/internal/calendar"
	"libracirc/internal/storage"
)

// Status is the lifecycle state of a loan.
type Status string

const (
	StatusBorrowed Status = "borrowed"
	StatusOverdue  Status = "overdue"
	StatusReturned Status = "returned"
)

// transitions lists the allowed successors of each status. Returned is
// terminal. The ledger turns this table into the WHERE clause of every
// status update, so a forbidden transition matches no row.
var transitions = map[Status][]Status{
	StatusBorrowed: {StatusOverdue, StatusReturned},
	StatusOverdue:  {StatusReturned},
	StatusReturned: nil,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Active reports whether a loan in this status holds a copy of its item.
func (s Status) Active() bool {
	return s == StatusBorrowed || s == StatusOverdue
}

// CanTransition reports whether a loan may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// predecessors returns the statuses that may move to target.
func predecessors(target Status) []Status {
	var from []Status
	for _, s := range []Status{StatusBorrowed, StatusOverdue, StatusReturned} {
		if CanTransition(s, target) {
			from = append(from, s)
		}
	}
	return from
}

// Loan links one member to one copy of an item for a bounded period.
type Loan struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	Code       string            `json:"code" db:"code"`
	MemberID   uuid.UUID         `json:"member_id" db:"member_id"`
	ItemID     uuid.UUID         `json:"item_id" db:"item_id"`
	LoanDate   calendar.Date     `json:"loan_date" db:"loan_date"`
	DueDate    calendar.Date     `json:"due_date" db:"due_date"`
	ReturnDate calendar.Date     `json:"return_date,omitzero" db:"return_date"`
	Status     Status            `json:"status" db:"status"`
	FineAmount decimal.Decimal   `json:"fine_amount" db:"fine_amount"`
	Version    int               `json:"version" db:"version"`
	CreatedAt  storage.Timestamp `json:"created_at" db:"created_at"`
	UpdatedAt  storage.Timestamp `json:"updated_at" db:"updated_at"`
}

// LoanRequest asks for a new loan. Zero dates fall back to today and to
// today plus the loan period.
type LoanRequest struct {
	MemberID uuid.UUID     `json:"member_id"`
	ItemID   uuid.UUID     `json:"item_id"`
	LoanDate calendar.Date `json:"loan_date,omitzero"`
	DueDate  calendar.Date `json:"due_date,omitzero"`
}

// ReturnResult is the outcome of a return.
type ReturnResult struct {
	Loan        *Loan           `json:"loan"`
	FineAmount  decimal.Decimal `json:"fine_amount"`
	OverdueDays int             `json:"overdue_days"`
}

// LoanDetail is a loan joined with its member and item. DaysOverdue and
// AccruedFine are filled by the overdue sweep only.
type LoanDetail struct {
	Loan
	MemberName  string          `json:"member_name" db:"member_name"`
	MemberEmail string          `json:"member_email" db:"member_email"`
	ItemTitle   string          `json:"item_title" db:"item_title"`
	ItemISBN    string          `json:"item_isbn" db:"item_isbn"`
	DaysOverdue int             `json:"days_overdue" db:"-"`
	AccruedFine decimal.Decimal `json:"accrued_fine" db:"-"`
}

// LoanFilter selects loans for the history view. Zero fields do not
// filter; From and To bound the loan date inclusively.
type LoanFilter struct {
	MemberID uuid.UUID
	ItemID   uuid.UUID
	Status   Status
	From     calendar.Date
	To       calendar.Date
	Limit    int
}

// Stats aggregates the whole ledger.
type Stats struct {
	ByStatus            map[Status]int  `json:"by_status"`
	TotalLoans          int             `json:"total_loans"`
	TotalFines          decimal.Decimal `json:"total_fines"`
	AverageDurationDays float64         `json:"average_duration_days"`
}

// Drift is an item whose available counter disagrees with its active loans.
type Drift struct {
	ItemID      uuid.UUID `json:"item_id" db:"id"`
	Title       string    `json:"title" db:"title"`
	TotalCopies int       `json:"total_copies" db:"total_copies"`
	Available   int       `json:"available" db:"available"`
	ActiveLoans int       `json:"active_loans" db:"active_loans"`
}

// Expected is the available count the active loans imply.
func (d Drift) Expected() int {
	return d.TotalCopies - d.ActiveLoans
}

// LoanCreatedEvent is journaled when a loan is created.
type LoanCreatedEvent struct {
	LoanID   uuid.UUID     `json:"loan_id"`
	Code     string        `json:"code"`
	MemberID uuid.UUID     `json:"member_id"`
	ItemID   uuid.UUID     `json:"item_id"`
	LoanDate calendar.Date `json:"loan_date"`
	DueDate  calendar.Date `json:"due_date"`
}

// LoanReturnedEvent is journaled when a loan is returned.
type LoanReturnedEvent struct {
	LoanID      uuid.UUID       `json:"loan_id"`
	ReturnDate  calendar.Date   `json:"return_date"`
	OverdueDays int             `json:"overdue_days"`
	FineAmount  decimal.Decimal `json:"fine_amount"`
}

// LoanOverdueEvent is journaled when the sweep reclassifies a loan.
type LoanOverdueEvent struct {
	LoanID uuid.UUID     `json:"loan_id"`
	AsOf   calendar.Date `json:"as_of"`
}

// LoanExtendedEvent is journaled when the due date moves.
type LoanExtendedEvent struct {
	LoanID     uuid.UUID     `json:"loan_id"`
	OldDueDate calendar.Date `json:"old_due_date"`
	NewDueDate calendar.Date `json:"new_due_date"`
}
