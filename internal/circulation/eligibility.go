// internal/circulation/eligibility.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libracirc/internal/calendar"
	"libracirc/internal/membership"
	"libracirc/internal/storage"
)

// CanBorrow reports whether the member may take a new loan today. A
// missing member is an error; a check that cannot be evaluated is logged
// and answered with false.
func (e *Engine) CanBorrow(ctx context.Context, memberID uuid.UUID) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "circulation.CanBorrow")
	defer span.End()

	var reason error
	err := storage.WithTx(ctx, e.db, func(tx *sqlx.Tx) error {
		reason = e.checkEligibility(ctx, tx, memberID, e.today())
		return nil
	})
	if err != nil {
		e.logger.WarnContext(ctx, "eligibility check failed", slog.String("member_id", memberID.String()), slog.Any("error", err))
		return false, nil
	}
	switch {
	case reason == nil:
		return true, nil
	case errors.Is(reason, ErrNotFound):
		return false, reason
	default:
		return false, nil
	}
}

// checkEligibility returns nil when the member may borrow on day. It must
// run in the transaction that reserves the copy, so two concurrent requests
// of one member cannot both pass the loan cap.
func (e *Engine) checkEligibility(ctx context.Context, q sqlx.ExtContext, memberID uuid.UUID, day calendar.Date) error {
	member, err := e.members.GetBorrower(ctx, q, memberID)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return e.failClosed(ctx, memberID, err)
	}
	if !member.Active() {
		return fmt.Errorf("%w: member %s is %s", ErrNotEligible, memberID, member.Status)
	}

	overdue, err := e.members.HasOverdueLoans(ctx, q, memberID, day)
	if err != nil {
		return e.failClosed(ctx, memberID, err)
	}
	if overdue {
		return fmt.Errorf("%w: member %s has overdue loans", ErrNotEligible, memberID)
	}

	if member.MaxLoans > 0 {
		active, err := e.members.ActiveLoanCount(ctx, q, memberID)
		if err != nil {
			return e.failClosed(ctx, memberID, err)
		}
		if active >= member.MaxLoans {
			return fmt.Errorf("%w: member %s holds %d of %d loans", ErrNotEligible, memberID, active, member.MaxLoans)
		}
	}
	return nil
}

func (e *Engine) failClosed(ctx context.Context, memberID uuid.UUID, cause error) error {
	e.logger.WarnContext(ctx, "eligibility could not be evaluated, refusing loan",
		slog.String("member_id", memberID.String()),
		slog.Any("error", cause),
	)
	return fmt.Errorf("%w: %w", ErrNotEligible, cause)
}
