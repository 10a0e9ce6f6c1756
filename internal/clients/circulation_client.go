// internal/clients/circulation_client.go
package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"libracirc/internal/calendar"
	"libracirc/internal/circulation"
)

// CirculationClient calls the loan endpoints. Rejections come back wrapped
// in the circulation sentinel errors, e.g. circulation.ErrItemUnavailable.
type CirculationClient struct {
	t *Transport
}

func NewCirculationClient(t *Transport) *CirculationClient {
	return &CirculationClient{t: t}
}

func (c *CirculationClient) CreateLoan(ctx context.Context, req circulation.LoanRequest) (*circulation.Loan, error) {
	var loan circulation.Loan
	if err := c.t.do(ctx, http.MethodPost, "/loans", req, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// ReturnLoan returns the loan on returnDate, or today when it is zero.
func (c *CirculationClient) ReturnLoan(ctx context.Context, id uuid.UUID, returnDate calendar.Date) (*circulation.ReturnResult, error) {
	req := struct {
		ReturnDate calendar.Date `json:"return_date"`
	}{returnDate}

	var result circulation.ReturnResult
	if err := c.t.do(ctx, http.MethodPost, "/loans/"+id.String()+"/return", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *CirculationClient) ExtendLoan(ctx context.Context, id uuid.UUID, extraDays int) (*circulation.Loan, error) {
	req := struct {
		ExtraDays int `json:"extra_days"`
	}{extraDays}

	var loan circulation.Loan
	if err := c.t.do(ctx, http.MethodPost, "/loans/"+id.String()+"/extend", req, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *CirculationClient) GetLoan(ctx context.Context, id uuid.UUID) (*circulation.Loan, error) {
	var loan circulation.Loan
	if err := c.t.do(ctx, http.MethodGet, "/loans/"+id.String(), nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *CirculationClient) CurrentLoans(ctx context.Context, memberID uuid.UUID) ([]circulation.LoanDetail, error) {
	var loans []circulation.LoanDetail
	if err := c.t.do(ctx, http.MethodGet, "/members/"+memberID.String()+"/loans", nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *CirculationClient) CanBorrow(ctx context.Context, memberID uuid.UUID) (bool, error) {
	var resp struct {
		Eligible bool `json:"eligible"`
	}
	if err := c.t.do(ctx, http.MethodGet, "/members/"+memberID.String()+"/eligibility", nil, &resp); err != nil {
		return false, err
	}
	return resp.Eligible, nil
}

// Overdue runs the overdue sweep as of asOf (today when zero) and returns
// every overdue loan.
func (c *CirculationClient) Overdue(ctx context.Context, asOf calendar.Date) ([]circulation.LoanDetail, error) {
	path := "/overdue"
	if !asOf.IsZero() {
		path += "?" + url.Values{"as_of": {asOf.String()}}.Encode()
	}

	var loans []circulation.LoanDetail
	if err := c.t.do(ctx, http.MethodGet, path, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *CirculationClient) Statistics(ctx context.Context) (*circulation.Stats, error) {
	var stats circulation.Stats
	if err := c.t.do(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *CirculationClient) VerifyInventory(ctx context.Context) ([]circulation.Drift, error) {
	var drifts []circulation.Drift
	if err := c.t.do(ctx, http.MethodGet, "/inventory/drift", nil, &drifts); err != nil {
		return nil, err
	}
	return drifts, nil
}
