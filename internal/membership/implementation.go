// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libracirc/internal/calendar"
	"libracirc/internal/eventstore"
	"libracirc/internal/storage"
)

const (
	aggregateType = "member"
	memberColumns = `id, email, name, status, max_loans, version, created_at, updated_at`
)

var (
	_ Service   = (*Store)(nil)
	_ Directory = (*Store)(nil)
)

// Store implements Service and Directory over the members table.
type Store struct {
	eventStore *eventstore.EventStore
	db         *sqlx.DB
	now        func() time.Time
}

// NewService creates a new membership service instance.
func NewService(es *eventstore.EventStore, db *sqlx.DB) *Store {
	return &Store{
		eventStore: es,
		db:         db,
		now:        time.Now,
	}
}

// RegisterMember creates a new active member.
func (s *Store) RegisterMember(ctx context.Context, email, name string, maxLoans int) (*Member, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMember, err)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidMember)
	}
	if maxLoans < 0 {
		return nil, fmt.Errorf("%w: max loans must not be negative", ErrInvalidMember)
	}

	now := s.now().UTC()
	member := &Member{
		ID:        uuid.New(),
		Email:     email,
		Name:      name,
		Status:    StatusActive,
		MaxLoans:  maxLoans,
		Version:   1,
		CreatedAt: storage.Timestamp{Time: now},
		UpdatedAt: storage.Timestamp{Time: now},
	}

	event, err := eventstore.NewEvent("MemberRegistered", MemberRegisteredEvent{
		ID:       member.ID,
		Email:    email,
		Name:     name,
		MaxLoans: maxLoans,
	})
	if err != nil {
		return nil, err
	}

	err = storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			INSERT INTO members (id, email, name, status, max_loans, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if _, err := tx.ExecContext(ctx, query, member.ID, member.Email, member.Name, member.Status, member.MaxLoans, member.Version, now, now); err != nil {
			if storage.IsUniqueViolation(err) {
				return fmt.Errorf("%s: %w", email, ErrDuplicateEmail)
			}
			return fmt.Errorf("insert member: %w", err)
		}
		return s.eventStore.AppendEvents(ctx, tx, member.ID, aggregateType, 0, event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register member: %w", err)
	}
	return member, nil
}

// GetMember retrieves a member by ID.
func (s *Store) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.getMember(ctx, s.db, id, "")
}

func (s *Store) GetBorrower(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*Member, error) {
	return s.getMember(ctx, q, id, storage.ForUpdate(q))
}

func (s *Store) getMember(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, lock string) (*Member, error) {
	member := &Member{}
	query := q.Rebind(`SELECT ` + memberColumns + ` FROM members WHERE id = ?` + lock)
	if err := sqlx.GetContext(ctx, q, member, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("member with ID %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

func (s *Store) HasOverdueLoans(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, asOf calendar.Date) (bool, error) {
	var count int
	query := q.Rebind(`
		SELECT COUNT(*) FROM loans
		WHERE member_id = ?
		AND (status = 'overdue' OR (status = 'borrowed' AND due_date < ?))
	`)
	if err := sqlx.GetContext(ctx, q, &count, query, id, asOf); err != nil {
		return false, fmt.Errorf("count overdue loans of %s: %w", id, err)
	}
	return count > 0, nil
}

func (s *Store) ActiveLoanCount(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (int, error) {
	var count int
	query := q.Rebind(`SELECT COUNT(*) FROM loans WHERE member_id = ? AND status IN ('borrowed', 'overdue')`)
	if err := sqlx.GetContext(ctx, q, &count, query, id); err != nil {
		return 0, fmt.Errorf("count active loans of %s: %w", id, err)
	}
	return count, nil
}

// Suspend blocks a member from borrowing. Loans already out are unaffected.
func (s *Store) Suspend(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.setStatus(ctx, id, StatusSuspended)
}

// Reinstate lets a suspended member borrow again.
func (s *Store) Reinstate(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.setStatus(ctx, id, StatusActive)
}

func (s *Store) setStatus(ctx context.Context, id uuid.UUID, status string) (*Member, error) {
	return s.update(ctx, id, func(m *Member) (eventstore.Event, bool, error) {
		if m.Status == status {
			return eventstore.Event{}, false, nil
		}
		event, err := eventstore.NewEvent("MemberStatusChanged", MemberStatusChangedEvent{
			ID:        id,
			OldStatus: m.Status,
			NewStatus: status,
		})
		m.Status = status
		return event, true, err
	})
}

// SetMaxLoans changes the member's cap on concurrent loans. Zero removes
// the cap.
func (s *Store) SetMaxLoans(ctx context.Context, id uuid.UUID, maxLoans int) (*Member, error) {
	if maxLoans < 0 {
		return nil, fmt.Errorf("%w: max loans must not be negative", ErrInvalidMember)
	}
	return s.update(ctx, id, func(m *Member) (eventstore.Event, bool, error) {
		if m.MaxLoans == maxLoans {
			return eventstore.Event{}, false, nil
		}
		event, err := eventstore.NewEvent("MemberLimitChanged", MemberLimitChangedEvent{ID: id, MaxLoans: maxLoans})
		m.MaxLoans = maxLoans
		return event, true, err
	})
}

// update loads the member under lock, lets mutate change it and writes it
// back with the resulting event. A mutate that reports no change leaves the
// row and the journal untouched.
func (s *Store) update(ctx context.Context, id uuid.UUID, mutate func(*Member) (eventstore.Event, bool, error)) (*Member, error) {
	var updated *Member
	err := storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		member, err := s.getMember(ctx, tx, id, storage.ForUpdate(tx))
		if err != nil {
			return err
		}
		event, changed, err := mutate(member)
		if err != nil {
			return err
		}
		if !changed {
			updated = member
			return nil
		}

		now := s.now().UTC()
		query := tx.Rebind(`
			UPDATE members
			SET status = ?, max_loans = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`)
		res, err := tx.ExecContext(ctx, query, member.Status, member.MaxLoans, now, id, member.Version)
		if err != nil {
			return fmt.Errorf("update member: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return eventstore.ErrConcurrencyConflict
		}
		if err := s.eventStore.AppendEvents(ctx, tx, id, aggregateType, member.Version, event); err != nil {
			return err
		}

		member.Version++
		member.UpdatedAt = storage.Timestamp{Time: now}
		updated = member
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
