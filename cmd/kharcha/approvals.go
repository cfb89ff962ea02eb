package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/approval"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/daemon"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

var (
	listOpts   approval.ListOptions
	listStatus string
	override   approval.Override
)

var approvalsCmd = &cobra.Command{
	Use:     "approvals",
	Aliases: []string{"ap"},
	Short:   "Review extracted transactions",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approvals, pending first by default",
	Long: `List approvals.

Examples:
  kharcha approvals list --owner alice
  kharcha approvals list --status APPROVED --sort confidence --desc`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			listOpts.Status = api.ApprovalStatus(listStatus)
			list, err := app.Approvals.List(ctx, listOpts)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(list)
			}
			if len(list) == 0 {
				fmt.Println(mutedStyle.Render("nothing to review"))
			}
			for _, a := range list {
				printApproval(a)
			}
			return nil
		})
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve and book an expense, optionally overriding extracted values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			a, err := app.Approvals.Approve(ctx, args[0], &override)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(a)
			}
			printApproval(a)
			return nil
		})
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject an approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			a, err := app.Approvals.Reject(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(a)
			}
			printApproval(a)
			return nil
		})
	},
}

func init() {
	f := approvalsListCmd.Flags()
	f.StringVar(&listOpts.Owner, "owner", "", "only this owner's approvals")
	f.StringVar(&listStatus, "status", string(api.ApprovalPending), "PENDING, APPROVED, REJECTED or empty for all")
	f.StringVar(&listOpts.SortBy, "sort", "created_at", "created_at, confidence or status")
	f.BoolVar(&listOpts.Desc, "desc", false, "sort descending")
	f.IntVar(&listOpts.Limit, "limit", 50, "maximum rows")
	f.IntVar(&listOpts.Offset, "offset", 0, "rows to skip")

	o := approvalsApproveCmd.Flags()
	o.StringVar(&override.Merchant, "merchant", "", "override merchant")
	o.StringVar(&override.Amount, "amount", "", "override amount")
	o.StringVar(&override.Date, "date", "", "override date (YYYY-MM-DD)")
	o.StringVar(&override.Category, "category", "", "override category")
	o.StringVar(&override.Currency, "currency", "", "override ISO currency code")

	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsRejectCmd)
	rootCmd.AddCommand(approvalsCmd)
}
