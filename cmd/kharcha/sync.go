package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/daemon"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

var syncQueue bool

var syncCmd = &cobra.Command{
	Use:   "sync <account-id>",
	Short: "Sync one mail account",
	Long: `Sync one mail account.

By default the sync runs in this process and prints its counts. With --queue
the sync is handed to the worker queue and the command returns at once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			trigger := app.Coordinator.SyncNow
			if syncQueue {
				trigger = app.Coordinator.TriggerSync
			}
			res, err := trigger(ctx, args[0])
			if errors.Is(err, api.ErrAlreadySyncing) {
				fmt.Println(warnStyle.Render("rejected:"), "a sync is already running for this account")
				return nil
			}
			if jsonOutput {
				if perr := printJSON(res); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}

			fmt.Println(successStyle.Render(string(res.Status)), mutedStyle.Render(res.TaskRef))
			if c := res.Counts; c != nil {
				fmt.Printf("  fetched %d, new %d, financial %d, approvals %d, skipped %d, errors %d\n",
					c.Fetched, c.New, c.Financial, c.Approvals, c.Skipped, c.Errors)
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status [account-id]",
	Aliases: []string{"st"},
	Short:   "Show sync state of one or all accounts",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			var accounts []api.MailAccount
			if len(args) == 1 {
				a, err := app.Coordinator.GetSyncStatus(ctx, args[0])
				if err != nil {
					return err
				}
				accounts = []api.MailAccount{a}
			} else {
				var err error
				if accounts, err = app.Coordinator.ListAccounts(ctx, ""); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(accounts)
			}
			if len(accounts) == 0 {
				fmt.Println(mutedStyle.Render("no accounts"))
			}
			for _, a := range accounts {
				printAccount(a)
			}
			return nil
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Release sync locks held past the stuck timeout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			n, err := app.Coordinator.CleanupStuckSyncs(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]int{"released": n})
			}
			fmt.Printf("released %d stuck sync lock(s)\n", n)
			return nil
		})
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncQueue, "queue", false, "queue the sync instead of running it here")
	rootCmd.AddCommand(syncCmd, statusCmd, cleanupCmd)
}
