// internal/cli/reports.go
package cli

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"libracirc/internal/circulation"
)

func newOverdueCommand(opts *RootOptions) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "Run the overdue sweep and list overdue loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			date, err := parseDate("as-of", asOf)
			if err != nil {
				return err
			}

			loans, ctx, cancel := opts.loans(cmd)
			defer cancel()
			overdue, err := loans.Overdue(ctx, date)
			if err != nil {
				return apiError("overdue sweep failed", err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), overdue)
			}
			if len(overdue) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "No overdue loans")
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tMEMBER\tITEM\tDUE\tDAYS\tFINE")
			for _, l := range overdue {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					l.Code, l.MemberName, l.ItemTitle, l.DueDate, formatCount(l.DaysOverdue), formatMoney(l.AccruedFine))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "sweep date YYYY-MM-DD (defaults to today)")
	return cmd
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show loan statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, ctx, cancel := opts.loans(cmd)
			defer cancel()
			stats, err := loans.Statistics(ctx)
			if err != nil {
				return apiError("statistics failed", err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), stats)
			}

			statuses := make([]circulation.Status, 0, len(stats.ByStatus))
			for s := range stats.ByStatus {
				statuses = append(statuses, s)
			}
			slices.Sort(statuses)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Total loans:\t%s\n", formatCount(stats.TotalLoans))
			for _, s := range statuses {
				fmt.Fprintf(tw, "  %s:\t%s\n", s, formatCount(stats.ByStatus[s]))
			}
			fmt.Fprintf(tw, "Fines collected:\t%s\n", formatMoney(stats.TotalFines))
			fmt.Fprintf(tw, "Average loan:\t%s days\n", printer.Sprintf("%.1f", stats.AverageDurationDays))
			return tw.Flush()
		},
	}
}

func newDriftCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "List items whose available counter disagrees with their loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, ctx, cancel := opts.loans(cmd)
			defer cancel()
			drifts, err := loans.VerifyInventory(ctx)
			if err != nil {
				return apiError("inventory check failed", err)
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), drifts)
			}
			if len(drifts) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Inventory consistent")
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ITEM\tTITLE\tTOTAL\tAVAILABLE\tON LOAN\tEXPECTED")
			for _, d := range drifts {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
					d.ItemID, d.Title, d.TotalCopies, d.Available, d.ActiveLoans, d.Expected())
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d items out of balance", len(drifts)))
		},
	}
}
