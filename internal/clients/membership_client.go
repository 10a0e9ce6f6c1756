// internal/clients/membership_client.go
package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"libracirc/internal/membership"
)

type MembershipClient struct {
	t *Transport
}

func NewMembershipClient(t *Transport) *MembershipClient {
	return &MembershipClient{t: t}
}

// RegisterMember creates a member. A zero maxLoans leaves the member uncapped.
func (c *MembershipClient) RegisterMember(ctx context.Context, email, name string, maxLoans int) (*membership.Member, error) {
	req := struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		MaxLoans int    `json:"max_loans"`
	}{email, name, maxLoans}

	var member membership.Member
	if err := c.t.do(ctx, http.MethodPost, "/members", req, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *MembershipClient) GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error) {
	var member membership.Member
	if err := c.t.do(ctx, http.MethodGet, "/members/"+id.String(), nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *MembershipClient) Suspend(ctx context.Context, id uuid.UUID) (*membership.Member, error) {
	var member membership.Member
	if err := c.t.do(ctx, http.MethodPost, "/members/"+id.String()+"/suspend", nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}
