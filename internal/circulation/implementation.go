// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libracirc/internal/calendar"
	"libracirc/internal/catalog"
	"libracirc/internal/config"
	"libracirc/internal/eventstore"
	"libracirc/internal/membership"
	"libracirc/internal/storage"
)

const (
	instrumentationName = "libracirc/circulation"
	aggregateType       = "loan"
	codeSavepoint       = "loan_code"

	// maxExtensionDays bounds a single extension to ten years.
	maxExtensionDays = 3650
)

var _ Service = (*Engine)(nil)

// Engine runs loans, returns, extensions and the overdue sweep. It keeps no
// mutable state of its own: every multi-step change runs in one database
// transaction, and the counters it touches only move through conditional
// updates.
type Engine struct {
	db        *sqlx.DB
	inventory catalog.Inventory
	members   membership.Directory
	journal   *eventstore.EventStore
	ledger    ledger

	policy  config.Circulation
	intN    func(n int) int
	codeGen *CodeGenerator

	logger  *slog.Logger
	now     func() time.Time
	tracer  trace.Tracer
	meter   metric.Meter
	metrics *engineMetrics
}

type Option func(*Engine)

// WithPolicy sets the loan period, fine rate and code format.
func WithPolicy(policy config.Circulation) Option {
	return func(e *Engine) {
		e.policy = policy
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the source of "today" for defaulted dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(instrumentationName)
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		e.meter = mp.Meter(instrumentationName)
	}
}

// WithRandomSource replaces the random digits of generated loan codes.
// intN must return a value in [0, n).
func WithRandomSource(intN func(n int) int) Option {
	return func(e *Engine) {
		e.intN = intN
	}
}

// NewEngine wires the engine to its collaborators.
func NewEngine(db *sqlx.DB, inventory catalog.Inventory, members membership.Directory, journal *eventstore.EventStore, opts ...Option) (*Engine, error) {
	e := &Engine{
		db:        db,
		inventory: inventory,
		members:   members,
		journal:   journal,
		policy:    config.Default().Circulation,
		logger:    slog.Default(),
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.policy.CodeMaxAttempts < 1 || e.policy.CodeRandomDigits < 1 || e.policy.LoanPeriodDays < 1 {
		return nil, fmt.Errorf("circulation: invalid policy %+v", e.policy)
	}
	e.codeGen = NewCodeGenerator(e.policy.CodePrefix, e.policy.CodeRandomDigits, e.intN)

	metrics, err := newEngineMetrics(e.meter)
	if err != nil {
		return nil, err
	}
	e.metrics = metrics
	return e, nil
}

func (e *Engine) today() calendar.Date {
	return calendar.Of(e.now().UTC())
}

func latest(a, b calendar.Date) calendar.Date {
	if a.Before(b) {
		return b
	}
	return a
}

// CreateLoan lends one copy of an item to a member. Eligibility, the
// reservation and the loan row commit together or not at all.
func (e *Engine) CreateLoan(ctx context.Context, req LoanRequest) (loan *Loan, err error) {
	ctx, span := e.tracer.Start(ctx, "circulation.CreateLoan", trace.WithAttributes(
		attribute.String("member.id", req.MemberID.String()),
		attribute.String("item.id", req.ItemID.String()),
	))
	defer span.End()
	defer func() { e.observe(ctx, span, "create_loan", err) }()

	if req.MemberID == uuid.Nil || req.ItemID == uuid.Nil {
		return nil, fmt.Errorf("%w: member and item are required", ErrInvalidInput)
	}
	loanDate := req.LoanDate
	if loanDate.IsZero() {
		loanDate = e.today()
	}
	dueDate := req.DueDate
	if dueDate.IsZero() {
		dueDate = loanDate.AddDays(e.policy.LoanPeriodDays)
	}
	if !dueDate.InRange() {
		return nil, fmt.Errorf("%w: due date outside the calendar", ErrInvalidInput)
	}
	if dueDate.Before(loanDate) {
		return nil, fmt.Errorf("%w: due date %s is before loan date %s", ErrInvalidInput, dueDate, loanDate)
	}

	now := e.now().UTC()
	created := &Loan{
		ID:         uuid.New(),
		MemberID:   req.MemberID,
		ItemID:     req.ItemID,
		LoanDate:   loanDate,
		DueDate:    dueDate,
		Status:     StatusBorrowed,
		FineAmount: decimal.Zero,
		Version:    1,
		CreatedAt:  storage.Timestamp{Time: now},
		UpdatedAt:  storage.Timestamp{Time: now},
	}

	err = storage.WithTx(ctx, e.db, func(tx *sqlx.Tx) error {
		if err := e.checkEligibility(ctx, tx, req.MemberID, latest(loanDate, e.today())); err != nil {
			return err
		}
		if err := e.reserve(ctx, tx, req.ItemID); err != nil {
			return err
		}
		if err := e.insertWithUniqueCode(ctx, tx, created, now); err != nil {
			return err
		}

		event, err := eventstore.NewEvent("LoanCreated", LoanCreatedEvent{
			LoanID:   created.ID,
			Code:     created.Code,
			MemberID: created.MemberID,
			ItemID:   created.ItemID,
			LoanDate: created.LoanDate,
			DueDate:  created.DueDate,
		})
		if err != nil {
			return err
		}
		return e.journal.AppendEvents(ctx, tx, created.ID, aggregateType, 0, event)
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("loan.id", created.ID.String()),
		attribute.String("loan.code", created.Code),
	)
	e.metrics.created.Add(ctx, 1)
	e.logger.InfoContext(ctx, "loan created",
		slog.String("loan_id", created.ID.String()),
		slog.String("code", created.Code),
		slog.String("member_id", created.MemberID.String()),
		slog.String("item_id", created.ItemID.String()),
		slog.String("due_date", created.DueDate.String()),
	)
	return created, nil
}

func (e *Engine) reserve(ctx context.Context, q sqlx.ExtContext, itemID uuid.UUID) error {
	err := e.inventory.Reserve(ctx, q, itemID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, catalog.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrItemUnavailable, err)
	case errors.Is(err, catalog.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("reserve item: %w", err)
	}
}

// insertWithUniqueCode assigns loan a fresh code and inserts it. The
// lookup skips codes already in the ledger; a concurrent insert of the same
// code still trips the UNIQUE constraint, which only rolls back the
// savepoint and counts as another attempt.
func (e *Engine) insertWithUniqueCode(ctx context.Context, q sqlx.ExtContext, loan *Loan, now time.Time) error {
	for attempt := 1; attempt <= e.policy.CodeMaxAttempts; attempt++ {
		code := e.codeGen.Generate(loan.LoanDate)
		taken, err := e.ledger.codeExists(ctx, q, code)
		if err != nil {
			return err
		}
		if taken {
			e.logger.DebugContext(ctx, "loan code taken", slog.String("code", code), slog.Int("attempt", attempt))
			continue
		}

		loan.Code = code
		err = storage.Savepoint(ctx, q, codeSavepoint, func() error {
			return e.ledger.insert(ctx, q, loan, now)
		})
		if err == nil {
			return nil
		}
		if !storage.IsUniqueViolation(err) {
			return fmt.Errorf("insert loan: %w", err)
		}
		e.logger.DebugContext(ctx, "loan code collided on insert", slog.String("code", code), slog.Int("attempt", attempt))
	}
	loan.Code = ""
	return fmt.Errorf("%w: no free code after %d attempts", ErrCodeExhausted, e.policy.CodeMaxAttempts)
}

// ReturnLoan closes a loan and puts the copy back. A zero returnDate means
// today. The fine is charged per whole day past the due date.
func (e *Engine) ReturnLoan(ctx context.Context, loanID uuid.UUID, returnDate calendar.Date) (result *ReturnResult, err error) {
	ctx, span := e.tracer.Start(ctx, "circulation.ReturnLoan", trace.WithAttributes(
		attribute.String("loan.id", loanID.String()),
	))
	defer span.End()
	defer func() { e.observe(ctx, span, "return_loan", err) }()

	if returnDate.IsZero() {
		returnDate = e.today()
	}

	err = storage.WithTx(ctx, e.db, func(tx *sqlx.Tx) error {
		loan, err := e.ledger.get(ctx, tx, loanID, storage.ForUpdate(tx))
		if err != nil {
			return err
		}
		if loan.Status == StatusReturned {
			return fmt.Errorf("loan %s returned on %s: %w", loanID, loan.ReturnDate, ErrAlreadyReturned)
		}
		if returnDate.Before(loan.LoanDate) {
			return fmt.Errorf("%w: return date %s is before loan date %s", ErrInvalidInput, returnDate, loan.LoanDate)
		}

		days := OverdueDays(loan.DueDate, returnDate)
		fine := Fine(days, e.policy.FinePerDay)
		now := e.now().UTC()

		ok, err := e.ledger.markReturned(ctx, tx, loanID, returnDate, fine, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("loan %s: %w", loanID, ErrAlreadyReturned)
		}

		if err := e.inventory.Release(ctx, tx, loan.ItemID); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return fmt.Errorf("%w: loan %s refers to a missing item: %w", ErrInconsistentState, loanID, err)
			}
			return fmt.Errorf("release item: %w", err)
		}

		event, err := eventstore.NewEvent("LoanReturned", LoanReturnedEvent{
			LoanID:      loanID,
			ReturnDate:  returnDate,
			OverdueDays: days,
			FineAmount:  fine,
		})
		if err != nil {
			return err
		}
		if err := e.journal.AppendEvents(ctx, tx, loanID, aggregateType, loan.Version, event); err != nil {
			return err
		}

		loan.Status = StatusReturned
		loan.ReturnDate = returnDate
		loan.FineAmount = fine
		loan.Version++
		loan.UpdatedAt = storage.Timestamp{Time: now}
		result = &ReturnResult{Loan: loan, FineAmount: fine, OverdueDays: days}
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("loan.overdue_days", result.OverdueDays),
		attribute.String("loan.fine", result.FineAmount.String()),
	)
	e.metrics.returned.Add(ctx, 1)
	if result.FineAmount.IsPositive() {
		e.metrics.fines.Add(ctx, result.FineAmount.InexactFloat64())
	}
	e.logger.InfoContext(ctx, "loan returned",
		slog.String("loan_id", loanID.String()),
		slog.Int("overdue_days", result.OverdueDays),
		slog.String("fine", result.FineAmount.String()),
	)
	return result, nil
}

// ReclassifyOverdue marks every borrowed loan due before asOf as overdue
// and returns all overdue loans with member and item detail. A zero asOf
// means today. Overdue status is only ever materialized here.
func (e *Engine) ReclassifyOverdue(ctx context.Context, asOf calendar.Date) (details []LoanDetail, err error) {
	if asOf.IsZero() {
		asOf = e.today()
	}
	ctx, span := e.tracer.Start(ctx, "circulation.ReclassifyOverdue", trace.WithAttributes(
		attribute.String("as_of", asOf.String()),
	))
	defer span.End()
	defer func() { e.observe(ctx, span, "reclassify_overdue", err) }()

	var swept []sweptLoan
	err = storage.WithTx(ctx, e.db, func(tx *sqlx.Tx) error {
		var err error
		swept, err = e.ledger.markOverdue(ctx, tx, asOf, e.now().UTC())
		if err != nil {
			return err
		}
		for _, s := range swept {
			event, err := eventstore.NewEvent("LoanOverdue", LoanOverdueEvent{LoanID: s.ID, AsOf: asOf})
			if err != nil {
				return err
			}
			if err := e.journal.AppendEvents(ctx, tx, s.ID, aggregateType, s.Version-1, event); err != nil {
				return err
			}
		}

		details, err = e.ledger.overdue(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range details {
		d := &details[i]
		d.DaysOverdue = OverdueDays(d.DueDate, asOf)
		d.AccruedFine = Fine(d.DaysOverdue, e.policy.FinePerDay)
	}

	span.SetAttributes(
		attribute.Int("loans.reclassified", len(swept)),
		attribute.Int("loans.overdue", len(details)),
	)
	if len(swept) > 0 {
		e.metrics.reclassified.Add(ctx, int64(len(swept)))
		e.logger.InfoContext(ctx, "loans reclassified as overdue",
			slog.Int("count", len(swept)),
			slog.String("as_of", asOf.String()),
		)
	}
	return details, nil
}

// ExtendLoan pushes the due date of a borrowed loan back by extraDays.
func (e *Engine) ExtendLoan(ctx context.Context, loanID uuid.UUID, extraDays int) (extended *Loan, err error) {
	ctx, span := e.tracer.Start(ctx, "circulation.ExtendLoan", trace.WithAttributes(
		attribute.String("loan.id", loanID.String()),
		attribute.Int("extra_days", extraDays),
	))
	defer span.End()
	defer func() { e.observe(ctx, span, "extend_loan", err) }()

	if extraDays <= 0 || extraDays > maxExtensionDays {
		return nil, fmt.Errorf("%w: extra days must be in [1, %d], got %d", ErrInvalidInput, maxExtensionDays, extraDays)
	}

	err = storage.WithTx(ctx, e.db, func(tx *sqlx.Tx) error {
		loan, err := e.ledger.get(ctx, tx, loanID, storage.ForUpdate(tx))
		if err != nil {
			return err
		}
		if loan.Status != StatusBorrowed {
			return fmt.Errorf("%w: loan %s is %s", ErrInvalidState, loanID, loan.Status)
		}

		newDue := loan.DueDate.AddDays(extraDays)
		if !newDue.InRange() {
			return fmt.Errorf("%w: due date %s extended past the calendar", ErrInvalidInput, loan.DueDate)
		}
		now := e.now().UTC()
		ok, err := e.ledger.extendDue(ctx, tx, loanID, newDue, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: loan %s changed status", ErrInvalidState, loanID)
		}

		event, err := eventstore.NewEvent("LoanExtended", LoanExtendedEvent{
			LoanID:     loanID,
			OldDueDate: loan.DueDate,
			NewDueDate: newDue,
		})
		if err != nil {
			return err
		}
		if err := e.journal.AppendEvents(ctx, tx, loanID, aggregateType, loan.Version, event); err != nil {
			return err
		}

		loan.DueDate = newDue
		loan.Version++
		loan.UpdatedAt = storage.Timestamp{Time: now}
		extended = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.extended.Add(ctx, 1)
	e.logger.InfoContext(ctx, "loan extended",
		slog.String("loan_id", loanID.String()),
		slog.String("due_date", extended.DueDate.String()),
	)
	return extended, nil
}

func (e *Engine) GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	ctx, span := e.tracer.Start(ctx, "circulation.GetLoan")
	defer span.End()
	return e.ledger.get(ctx, e.db, loanID, "")
}

// LoanHistory lists loans matching filter, newest loan date first.
func (e *Engine) LoanHistory(ctx context.Context, filter LoanFilter) ([]Loan, error) {
	ctx, span := e.tracer.Start(ctx, "circulation.LoanHistory")
	defer span.End()

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: range ends before it starts", ErrInvalidInput)
	}
	return e.ledger.history(ctx, e.db, filter)
}

// CurrentLoans lists the member's borrowed and overdue loans by due date,
// with the member and item they refer to.
func (e *Engine) CurrentLoans(ctx context.Context, memberID uuid.UUID) ([]LoanDetail, error) {
	ctx, span := e.tracer.Start(ctx, "circulation.CurrentLoans")
	defer span.End()
	return e.ledger.current(ctx, e.db, memberID)
}

func (e *Engine) Statistics(ctx context.Context) (*Stats, error) {
	ctx, span := e.tracer.Start(ctx, "circulation.Statistics")
	defer span.End()
	return e.ledger.stats(ctx, e.db)
}

// VerifyInventory lists items whose available counter disagrees with the
// ledger. It only reports; fixing counters is an operator decision.
func (e *Engine) VerifyInventory(ctx context.Context) ([]Drift, error) {
	ctx, span := e.tracer.Start(ctx, "circulation.VerifyInventory")
	defer span.End()

	drifts, err := e.ledger.drift(ctx, e.db)
	if err != nil {
		return nil, err
	}
	for _, d := range drifts {
		e.logger.ErrorContext(ctx, "inventory drift detected",
			slog.String("item_id", d.ItemID.String()),
			slog.Int("available", d.Available),
			slog.Int("expected", d.Expected()),
		)
	}
	span.SetAttributes(attribute.Int("items.drifted", len(drifts)))
	return drifts, nil
}

// observe records a failed operation on the span, the rejection counter
// and the log, at a level matching how serious the failure is.
func (e *Engine) observe(ctx context.Context, span trace.Span, op string, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	reason := Reason(err)
	e.metrics.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("reason", reason),
	))

	attrs := []any{
		slog.String("operation", op),
		slog.String("reason", reason),
		slog.Any("error", err),
	}
	switch reason {
	case "inconsistent_state", "internal":
		e.logger.ErrorContext(ctx, "circulation operation failed", attrs...)
	case "code_exhausted":
		e.logger.WarnContext(ctx, "circulation operation failed", attrs...)
	default:
		e.logger.InfoContext(ctx, "circulation request rejected", attrs...)
	}
}

// Reason names the class of an engine error. It is the code carried in
// HTTP error bodies and the reason attribute of the failure counter.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInconsistentState):
		return "inconsistent_state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrItemUnavailable):
		return "item_unavailable"
	case errors.Is(err, ErrAlreadyReturned):
		return "already_returned"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrCodeExhausted):
		return "code_exhausted"
	default:
		return "internal"
	}
}

var reasonErrors = map[string]error{
	"inconsistent_state": ErrInconsistentState,
	"not_found":          ErrNotFound,
	"not_eligible":       ErrNotEligible,
	"item_unavailable":   ErrItemUnavailable,
	"already_returned":   ErrAlreadyReturned,
	"invalid_state":      ErrInvalidState,
	"invalid_input":      ErrInvalidInput,
	"code_exhausted":     ErrCodeExhausted,
}

// ErrorForReason is the inverse of Reason. Unknown codes yield nil.
func ErrorForReason(reason string) error {
	return reasonErrors[reason]
}

type engineMetrics struct {
	created      metric.Int64Counter
	returned     metric.Int64Counter
	extended     metric.Int64Counter
	reclassified metric.Int64Counter
	rejected     metric.Int64Counter
	fines        metric.Float64Counter
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	var (
		m    engineMetrics
		errs []error
		err  error
	)
	m.created, err = meter.Int64Counter("libracirc.loans.created", metric.WithDescription("Loans created"))
	errs = append(errs, err)
	m.returned, err = meter.Int64Counter("libracirc.loans.returned", metric.WithDescription("Loans returned"))
	errs = append(errs, err)
	m.extended, err = meter.Int64Counter("libracirc.loans.extended", metric.WithDescription("Loans extended"))
	errs = append(errs, err)
	m.reclassified, err = meter.Int64Counter("libracirc.loans.reclassified", metric.WithDescription("Loans moved to overdue by the sweep"))
	errs = append(errs, err)
	m.rejected, err = meter.Int64Counter("libracirc.operations.failed", metric.WithDescription("Failed circulation operations by reason"))
	errs = append(errs, err)
	m.fines, err = meter.Float64Counter("libracirc.fines.assessed", metric.WithDescription("Fine amount charged at return"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("circulation metrics: %w", err)
	}
	return &m, nil
}
