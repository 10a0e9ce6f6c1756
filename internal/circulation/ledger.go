// internal/circulation/ledger.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"libracirc/internal/calendar"
	"libracirc/internal/storage"
)

const (
	loanColumns = `id, code, member_id, item_id, loan_date, due_date, return_date, status, fine_amount, version, created_at, updated_at`

	// detailColumns and detailJoin read a loan with its member and item.
	detailColumns = `l.id, l.code, l.member_id, l.item_id, l.loan_date, l.due_date, l.return_date,
		l.status, l.fine_amount, l.version, l.created_at, l.updated_at,
		m.name AS member_name, m.email AS member_email,
		i.title AS item_title, i.isbn AS item_isbn`
	detailJoin = `
		FROM loans l
		JOIN members m ON m.id = l.member_id
		JOIN items i ON i.id = l.item_id`

	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

var historyColumns = []any{
	"id", "code", "member_id", "item_id", "loan_date", "due_date",
	"return_date", "status", "fine_amount", "version", "created_at", "updated_at",
}

// ledger is the data access layer for loan rows. Every method takes the
// querier to run on so the engine can keep a whole operation in one
// transaction. Status changes are conditional updates whose WHERE clause
// admits only the predecessors from the transition table.
type ledger struct{}

type sweptLoan struct {
	ID      uuid.UUID `db:"id"`
	Version int       `db:"version"`
}

func statusArgs(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// expand rewrites IN (?) placeholders for slice arguments and rebinds the
// query for the driver behind q.
func expand(q sqlx.ExtContext, query string, args ...any) (string, []any, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("expand query: %w", err)
	}
	return q.Rebind(query), args, nil
}

func (ledger) insert(ctx context.Context, q sqlx.ExtContext, loan *Loan, now time.Time) error {
	query := q.Rebind(`
		INSERT INTO loans (id, code, member_id, item_id, loan_date, due_date, status, fine_amount, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := q.ExecContext(ctx, query,
		loan.ID, loan.Code, loan.MemberID, loan.ItemID, loan.LoanDate, loan.DueDate,
		string(loan.Status), loan.FineAmount, loan.Version, now, now,
	)
	return err
}

func (ledger) codeExists(ctx context.Context, q sqlx.ExtContext, code string) (bool, error) {
	var count int
	if err := sqlx.GetContext(ctx, q, &count, q.Rebind(`SELECT COUNT(*) FROM loans WHERE code = ?`), code); err != nil {
		return false, fmt.Errorf("look up loan code: %w", err)
	}
	return count > 0, nil
}

func (ledger) get(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, lock string) (*Loan, error) {
	loan := &Loan{}
	query := q.Rebind(`SELECT ` + loanColumns + ` FROM loans WHERE id = ?` + lock)
	if err := sqlx.GetContext(ctx, q, loan, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

// markReturned moves a loan to returned. It reports false when the loan
// was not in a status that may be returned.
func (ledger) markReturned(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, returnDate calendar.Date, fine decimal.Decimal, now time.Time) (bool, error) {
	query, args, err := expand(q, `
		UPDATE loans
		SET status = ?, return_date = ?, fine_amount = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status IN (?)
	`, string(StatusReturned), returnDate, fine, now, id, statusArgs(predecessors(StatusReturned)))
	if err != nil {
		return false, err
	}
	return execOne(ctx, q, query, args)
}

// extendDue moves the due date of a loan that is still borrowed.
func (ledger) extendDue(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, due calendar.Date, now time.Time) (bool, error) {
	query := q.Rebind(`
		UPDATE loans
		SET due_date = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?
	`)
	return execOne(ctx, q, query, []any{due, now, id, string(StatusBorrowed)})
}

func execOne(ctx context.Context, q sqlx.ExtContext, query string, args []any) (bool, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update loan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update loan: %w", err)
	}
	return n == 1, nil
}

// markOverdue reclassifies every borrowed loan due before asOf and returns
// the rows it changed with their new version. Loans already overdue are
// not touched, so repeating the sweep changes nothing.
func (ledger) markOverdue(ctx context.Context, q sqlx.ExtContext, asOf calendar.Date, now time.Time) ([]sweptLoan, error) {
	query, args, err := expand(q, `
		UPDATE loans
		SET status = ?, version = version + 1, updated_at = ?
		WHERE status IN (?) AND due_date < ?
		RETURNING id, version
	`, string(StatusOverdue), now, statusArgs(predecessors(StatusOverdue)), asOf)
	if err != nil {
		return nil, err
	}
	var swept []sweptLoan
	if err := sqlx.SelectContext(ctx, q, &swept, query, args...); err != nil {
		return nil, fmt.Errorf("reclassify overdue loans: %w", err)
	}
	return swept, nil
}

func (ledger) overdue(ctx context.Context, q sqlx.ExtContext) ([]LoanDetail, error) {
	query := q.Rebind(`SELECT ` + detailColumns + detailJoin + `
		WHERE l.status = ?
		ORDER BY l.due_date, l.code
	`)
	details := []LoanDetail{}
	if err := sqlx.SelectContext(ctx, q, &details, query, string(StatusOverdue)); err != nil {
		return nil, fmt.Errorf("list overdue loans: %w", err)
	}
	return details, nil
}

// history runs the filtered loan query. The SQL is built per dialect.
func (ledger) history(ctx context.Context, q sqlx.ExtContext, f LoanFilter) ([]Loan, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	ds := goqu.Dialect(storage.Dialect(q)).
		From("loans").
		Select(historyColumns...).
		Order(goqu.C("loan_date").Desc(), goqu.C("code").Desc()).
		Limit(uint(limit))
	if f.MemberID != uuid.Nil {
		ds = ds.Where(goqu.C("member_id").Eq(f.MemberID.String()))
	}
	if f.ItemID != uuid.Nil {
		ds = ds.Where(goqu.C("item_id").Eq(f.ItemID.String()))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	if !f.From.IsZero() {
		ds = ds.Where(goqu.C("loan_date").Gte(f.From.String()))
	}
	if !f.To.IsZero() {
		ds = ds.Where(goqu.C("loan_date").Lte(f.To.String()))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}
	loans := []Loan{}
	if err := sqlx.SelectContext(ctx, q, &loans, query, args...); err != nil {
		return nil, fmt.Errorf("query loan history: %w", err)
	}
	return loans, nil
}

func (ledger) current(ctx context.Context, q sqlx.ExtContext, memberID uuid.UUID) ([]LoanDetail, error) {
	query, args, err := expand(q, `SELECT `+detailColumns+detailJoin+`
		WHERE l.member_id = ? AND l.status IN (?)
		ORDER BY l.due_date, l.code
	`, memberID, statusArgs([]Status{StatusBorrowed, StatusOverdue}))
	if err != nil {
		return nil, err
	}
	details := []LoanDetail{}
	if err := sqlx.SelectContext(ctx, q, &details, query, args...); err != nil {
		return nil, fmt.Errorf("query current loans: %w", err)
	}
	return details, nil
}

func (ledger) stats(ctx context.Context, q sqlx.ExtContext) (*Stats, error) {
	stats := &Stats{ByStatus: map[Status]int{
		StatusBorrowed: 0,
		StatusOverdue:  0,
		StatusReturned: 0,
	}}

	var counts []struct {
		Status Status `db:"status"`
		N      int    `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, q, &counts, `SELECT status, COUNT(*) AS n FROM loans GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count loans by status: %w", err)
	}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.N
		stats.TotalLoans += c.N
	}

	if err := sqlx.GetContext(ctx, q, &stats.TotalFines, `SELECT COALESCE(SUM(fine_amount), 0) FROM loans`); err != nil {
		return nil, fmt.Errorf("sum fines: %w", err)
	}

	durationQuery := `SELECT AVG(return_date - loan_date)::float8 FROM loans WHERE status = 'returned'`
	if q.DriverName() == storage.DriverSQLite {
		durationQuery = `SELECT AVG(julianday(return_date) - julianday(loan_date)) FROM loans WHERE status = 'returned'`
	}
	var avg sql.NullFloat64
	if err := sqlx.GetContext(ctx, q, &avg, durationQuery); err != nil {
		return nil, fmt.Errorf("average loan duration: %w", err)
	}
	stats.AverageDurationDays = avg.Float64
	return stats, nil
}

// drift lists items whose available counter is not total copies minus
// active loans.
func (ledger) drift(ctx context.Context, q sqlx.ExtContext) ([]Drift, error) {
	query, args, err := expand(q, `
		SELECT i.id, i.title, i.total_copies, i.available, COUNT(l.id) AS active_loans
		FROM items i
		LEFT JOIN loans l ON l.item_id = i.id AND l.status IN (?)
		GROUP BY i.id, i.title, i.total_copies, i.available
		HAVING i.available <> i.total_copies - COUNT(l.id)
		ORDER BY i.title
	`, statusArgs([]Status{StatusBorrowed, StatusOverdue}))
	if err != nil {
		return nil, err
	}
	drifts := []Drift{}
	if err := sqlx.SelectContext(ctx, q, &drifts, query, args...); err != nil {
		return nil, fmt.Errorf("verify inventory: %w", err)
	}
	return drifts, nil
}
