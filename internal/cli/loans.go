// internal/cli/loans.go
package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"libracirc/internal/calendar"
	"libracirc/internal/circulation"
	"libracirc/internal/clients"
)

func (o *RootOptions) loans(cmd *cobra.Command) (*clients.CirculationClient, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	return clients.NewCirculationClient(o.Transport()), ctx, cancel
}

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, WrapExitError(ExitCommandError, "invalid "+kind+" ID", err)
	}
	return id, nil
}

func parseDate(flag, raw string) (calendar.Date, error) {
	if raw == "" {
		return calendar.Date{}, nil
	}
	d, err := calendar.Parse(raw)
	if err != nil {
		return calendar.Date{}, WrapExitError(ExitCommandError, "invalid --"+flag, err)
	}
	return d, nil
}

func newBorrowCommand(opts *RootOptions) *cobra.Command {
	var member, item, due string

	cmd := &cobra.Command{
		Use:   "borrow",
		Short: "Lend an item to a member",
		Example: `  libractl borrow --member 5b0c... --item 9e7f...
  libractl borrow --member 5b0c... --item 9e7f... --due 2024-02-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			memberID, err := parseID("member", member)
			if err != nil {
				return err
			}
			itemID, err := parseID("item", item)
			if err != nil {
				return err
			}
			dueDate, err := parseDate("due", due)
			if err != nil {
				return err
			}

			loans, ctx, cancel := opts.loans(cmd)
			defer cancel()
			loan, err := loans.CreateLoan(ctx, circulation.LoanRequest{MemberID: memberID, ItemID: itemID, DueDate: dueDate})
			if err != nil {
				return apiError("borrow failed", err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), loan)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Loan %s created, due %s\n", loan.Code, loan.DueDate)
			return err
		},
	}

	cmd.Flags().StringVar(&member, "member", "", "member ID (required)")
	cmd.Flags().StringVar(&item, "item", "", "item ID (required)")
	cmd.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD (defaults to the loan period)")
	_ = cmd.MarkFlagRequired("member")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func newReturnCommand(opts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "return LOAN_ID",
		Short: "Return a loan and assess any fine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("loan", args[0])
			if err != nil {
				return err
			}
			returnDate, err := parseDate("date", date)
			if err != nil {
				return err
			}

			loans, ctx, cancel := opts.loans(cmd)
			defer cancel()
			result, err := loans.ReturnLoan(ctx, id, returnDate)
			if err != nil {
				return apiError("return failed", err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			out := cmd.OutOrStdout()
			if result.OverdueDays == 0 {
				_, err = fmt.Fprintf(out, "Loan %s returned on time\n", result.Loan.Code)
				return err
			}
			_, err = fmt.Fprintf(out, "Loan %s returned %s days late, fine %s\n",
				result.Loan.Code, formatCount(result.OverdueDays), formatMoney(result.FineAmount))
			return err
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "return date YYYY-MM-DD (defaults to today)")
	return cmd
}

func newExtendCommand(opts *RootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "extend LOAN_ID",
		Short: "Push back the due date of a borrowed loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("loan", args[0])
			if err != nil {
				return err
			}

			loans, ctx, cancel := opts.loans(cmd)
			defer cancel()
			loan, err := loans.ExtendLoan(ctx, id, days)
			if err != nil {
				return apiError("extend failed", err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), loan)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Loan %s now due %s\n", loan.Code, loan.DueDate)
			return err
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "days to add to the due date")
	return cmd
}
