// internal/membership/domain.go
package membership

import (
	"errors"

	"github.com/google/uuid"

	"libracirc/internal/storage"
)

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

var (
	// ErrNotFound is returned when no member has the requested ID.
	ErrNotFound = errors.New("member not found")

	// ErrDuplicateEmail is returned when registering an email that is
	// already in use.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidMember is returned for malformed member data.
	ErrInvalidMember = errors.New("invalid member")
)

// Member represents a library member. A member with MaxLoans of zero has no
// cap on concurrent loans.
type Member struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	Email     string            `json:"email" db:"email"`
	Name      string            `json:"name" db:"name"`
	Status    string            `json:"status" db:"status"`
	MaxLoans  int               `json:"max_loans" db:"max_loans"`
	Version   int               `json:"version" db:"version"`
	CreatedAt storage.Timestamp `json:"created_at" db:"created_at"`
	UpdatedAt storage.Timestamp `json:"updated_at" db:"updated_at"`
}

func (m *Member) Active() bool {
	return m.Status == StatusActive
}

// MemberRegisteredEvent is journaled when a new member registers.
type MemberRegisteredEvent struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	MaxLoans int       `json:"max_loans"`
}

// MemberStatusChangedEvent is journaled on suspension and reinstatement.
type MemberStatusChangedEvent struct {
	ID        uuid.UUID `json:"id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
}

// MemberLimitChangedEvent is journaled when the loan cap changes.
type MemberLimitChangedEvent struct {
	ID       uuid.UUID `json:"id"`
	MaxLoans int       `json:"max_loans"`
}
