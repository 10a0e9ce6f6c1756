// internal/circulation/errors.go
package circulation

import (
	"errors"

	"libracirc/internal/catalog"
)

var (
	// ErrNotFound is returned when a referenced loan, item or member does
	// not exist. Collaborator not-found errors are wrapped alongside it.
	ErrNotFound = errors.New("not found")

	// ErrNotEligible is returned when the member may not borrow right now.
	// An eligibility check that cannot be evaluated also yields it.
	ErrNotEligible = errors.New("member not eligible to borrow")

	// ErrItemUnavailable is returned when no copy of the item is left.
	ErrItemUnavailable = errors.New("item unavailable")

	// ErrAlreadyReturned is returned by a second return of the same loan.
	ErrAlreadyReturned = errors.New("loan already returned")

	// ErrInvalidState is returned for an operation the loan's status does
	// not allow.
	ErrInvalidState = errors.New("invalid loan state")

	// ErrInconsistentState flags counters that contradict the ledger. It is
	// a data integrity failure for an operator and is never auto-corrected.
	ErrInconsistentState = catalog.ErrInconsistentState

	// ErrCodeExhausted is returned when no unused loan code was found within
	// the attempt limit. The whole operation may be retried.
	ErrCodeExhausted = errors.New("loan code attempts exhausted")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)
