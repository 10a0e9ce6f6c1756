// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"libracirc/internal/calendar"
	"libracirc/internal/catalog"
	"libracirc/internal/circulation"
	"libracirc/internal/membership"
)

// RegisterExperiments registers the predefined circulation experiments.
func (e *Engine) RegisterExperiments() {
	e.Register(e.BorrowStormExperiment(100, 3))
	e.Register(e.DoubleReturnExperiment(20))
	e.Register(e.SweepDuringReturnsExperiment(10))
}

// consistencyProbes hold before and after every experiment: no counter is
// out of bounds and every counter matches the loans table.
func (e *Engine) consistencyProbes() []Probe {
	return []Probe{
		{
			Name: "counter_violations",
			Query: func(ctx context.Context) (float64, error) {
				var n int
				err := e.db.GetContext(ctx, &n, `
					SELECT COUNT(*) FROM items
					WHERE available < 0 OR available > total_copies`)
				return float64(n), err
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name: "inventory_drift",
			Query: func(ctx context.Context) (float64, error) {
				drifts, err := e.loans.VerifyInventory(ctx)
				return float64(len(drifts)), err
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		},
	}
}

func (e *Engine) seedItem(ctx context.Context, copies int) (*catalog.Item, error) {
	return e.items.AddItem(ctx, "9780000000000", "Chaos "+uuid.NewString()[:8], "Chaos Monkey", copies)
}

func (e *Engine) seedMembers(ctx context.Context, n int) ([]*membership.Member, error) {
	members := make([]*membership.Member, n)
	for i := range members {
		m, err := e.members.RegisterMember(ctx, fmt.Sprintf("chaos-%s@example.com", uuid.NewString()), "Chaos Member", 0)
		if err != nil {
			return nil, fmt.Errorf("seed member: %w", err)
		}
		members[i] = m
	}
	return members, nil
}

func (e *Engine) expectAvailable(ctx context.Context, item *catalog.Item, want int) error {
	if item == nil {
		return errors.New("item was never seeded")
	}
	got, err := e.items.GetItem(ctx, item.ID)
	if err != nil {
		return err
	}
	if got.Available != want {
		return fmt.Errorf("item %s has %d copies available, want %d", item.ID, got.Available, want)
	}
	return nil
}

// BorrowStormExperiment has concurrency members borrow the same item at
// once. Exactly copies loans may succeed and the rejections must not trip
// the client's circuit breaker.
func (e *Engine) BorrowStormExperiment(concurrency, copies int) Experiment {
	var (
		item    *catalog.Item
		members []*membership.Member
		mu      sync.Mutex
		lent    []uuid.UUID
	)

	return Experiment{
		Name:        "concurrent-borrow-storm",
		Hypothesis:  "Concurrent borrows of one item never lend more copies than exist",
		SteadyState: e.consistencyProbes(),
		Method: []Action{
			{
				Name: "seed",
				Execute: func(ctx context.Context) error {
					var err error
					if item, err = e.seedItem(ctx, copies); err != nil {
						return err
					}
					members, err = e.seedMembers(ctx, concurrency)
					return err
				},
			},
			{
				Name: "borrow-storm",
				Execute: func(ctx context.Context) error {
					g, ctx := errgroup.WithContext(ctx)
					for _, m := range members {
						g.Go(func() error {
							loan, err := e.loans.CreateLoan(ctx, circulation.LoanRequest{MemberID: m.ID, ItemID: item.ID})
							switch {
							case err == nil:
								mu.Lock()
								lent = append(lent, loan.ID)
								mu.Unlock()
								return nil
							case errors.Is(err, circulation.ErrItemUnavailable):
								return nil
							default:
								return err
							}
						})
					}
					return g.Wait()
				},
			},
		},
		Rollback: []Action{
			{
				Name: "return-loans",
				Execute: func(ctx context.Context) error {
					var errs []error
					for _, id := range lent {
						if _, err := e.loans.ReturnLoan(ctx, id, calendar.Date{}); err != nil {
							errs = append(errs, err)
						}
					}
					return errors.Join(errs...)
				},
			},
		},
		Validation: []Assertion{
			{
				Name: "exactly-copies-lent",
				Condition: func(context.Context) error {
					if len(lent) != copies {
						return fmt.Errorf("%d loans succeeded, want %d", len(lent), copies)
					}
					return nil
				},
			},
			{
				Name: "copies-restored",
				Condition: func(ctx context.Context) error {
					return e.expectAvailable(ctx, item, copies)
				},
			},
			{
				Name: "breaker-closed",
				Condition: func(context.Context) error {
					if state := e.transport.BreakerState(); state != gobreaker.StateClosed {
						return fmt.Errorf("circuit breaker is %s after rejected borrows", state)
					}
					return nil
				},
			},
		},
		Timeout: 2 * time.Minute,
	}
}

// DoubleReturnExperiment returns the same loan from concurrency callers.
// One return wins; every other caller sees ErrAlreadyReturned.
func (e *Engine) DoubleReturnExperiment(concurrency int) Experiment {
	var (
		item     *catalog.Item
		loan     *circulation.Loan
		returned atomic.Int64
		refused  atomic.Int64
	)

	return Experiment{
		Name:        "concurrent-double-return",
		Hypothesis:  "A loan is returned at most once and its copy is released once",
		SteadyState: e.consistencyProbes(),
		Method: []Action{
			{
				Name: "seed",
				Execute: func(ctx context.Context) error {
					var err error
					if item, err = e.seedItem(ctx, 1); err != nil {
						return err
					}
					members, err := e.seedMembers(ctx, 1)
					if err != nil {
						return err
					}
					loan, err = e.loans.CreateLoan(ctx, circulation.LoanRequest{MemberID: members[0].ID, ItemID: item.ID})
					return err
				},
			},
			{
				Name: "return-storm",
				Execute: func(ctx context.Context) error {
					g, ctx := errgroup.WithContext(ctx)
					for range concurrency {
						g.Go(func() error {
							_, err := e.loans.ReturnLoan(ctx, loan.ID, calendar.Date{})
							switch {
							case err == nil:
								returned.Add(1)
							case errors.Is(err, circulation.ErrAlreadyReturned):
								refused.Add(1)
							default:
								return err
							}
							return nil
						})
					}
					return g.Wait()
				},
			},
		},
		Validation: []Assertion{
			{
				Name: "single-return",
				Condition: func(context.Context) error {
					if returned.Load() != 1 || refused.Load() != int64(concurrency-1) {
						return fmt.Errorf("%d returns succeeded and %d were refused", returned.Load(), refused.Load())
					}
					return nil
				},
			},
			{
				Name: "copy-released-once",
				Condition: func(ctx context.Context) error {
					return e.expectAvailable(ctx, item, 1)
				},
			},
		},
		Timeout: time.Minute,
	}
}

// SweepDuringReturnsExperiment runs the overdue sweep while past-due loans
// are being returned. Every loan ends returned with a fine and no copy is
// released twice.
func (e *Engine) SweepDuringReturnsExperiment(loans int) Experiment {
	var (
		item   *catalog.Item
		lent   []uuid.UUID
		fined  atomic.Int64
		sweeps atomic.Int64
	)

	return Experiment{
		Name:        "overdue-sweep-during-returns",
		Hypothesis:  "The overdue sweep and returns never double-release a copy",
		SteadyState: e.consistencyProbes(),
		Method: []Action{
			{
				Name: "seed",
				Execute: func(ctx context.Context) error {
					var err error
					if item, err = e.seedItem(ctx, loans); err != nil {
						return err
					}
					members, err := e.seedMembers(ctx, loans)
					if err != nil {
						return err
					}
					today := calendar.Of(time.Now().UTC())
					for _, m := range members {
						loan, err := e.loans.CreateLoan(ctx, circulation.LoanRequest{
							MemberID: m.ID,
							ItemID:   item.ID,
							LoanDate: today.AddDays(-20),
							DueDate:  today.AddDays(-6),
						})
						if err != nil {
							return err
						}
						lent = append(lent, loan.ID)
					}
					return nil
				},
			},
			{
				Name: "sweep-and-return",
				Execute: func(ctx context.Context) error {
					g, ctx := errgroup.WithContext(ctx)
					for range 3 {
						g.Go(func() error {
							if _, err := e.loans.Overdue(ctx, calendar.Date{}); err != nil {
								return err
							}
							sweeps.Add(1)
							return nil
						})
					}
					for _, id := range lent {
						g.Go(func() error {
							result, err := e.loans.ReturnLoan(ctx, id, calendar.Date{})
							if err != nil {
								return err
							}
							if result.FineAmount.IsPositive() {
								fined.Add(1)
							}
							return nil
						})
					}
					return g.Wait()
				},
			},
		},
		Validation: []Assertion{
			{
				Name: "all-returned-with-fines",
				Condition: func(context.Context) error {
					if sweeps.Load() == 0 {
						return errors.New("no overdue sweep completed")
					}
					if int(fined.Load()) != len(lent) {
						return fmt.Errorf("%d of %d late returns were fined", fined.Load(), len(lent))
					}
					return nil
				},
			},
			{
				Name: "copies-restored",
				Condition: func(ctx context.Context) error {
					return e.expectAvailable(ctx, item, loans)
				},
			},
		},
		Timeout: time.Minute,
	}
}
