package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/daemon"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

var (
	accountOwner      string
	accountCredential string
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage mail accounts",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Register a mail account for the configured mailbox plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			cred := accountCredential
			if cred == "" {
				cred = args[0]
			}
			a, err := app.Store.CreateAccount(ctx, api.MailAccount{
				Owner:         accountOwner,
				Address:       args[0],
				Provider:      app.Config.Mailbox.Plugin,
				CredentialRef: cred,
				Status:        api.AccountActive,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(a)
			}
			fmt.Println(successStyle.Render("added"), a.ID)
			return nil
		})
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mail accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			accounts, err := app.Coordinator.ListAccounts(ctx, accountOwner)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(accounts)
			}
			for _, a := range accounts {
				printAccount(a)
			}
			return nil
		})
	},
}

func init() {
	accountsCmd.PersistentFlags().StringVar(&accountOwner, "owner", "", "account owner")
	accountsAddCmd.Flags().StringVar(&accountCredential, "credential", "", "credential reference (default: the address)")
	_ = accountsAddCmd.MarkFlagRequired("owner")
	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd)
	rootCmd.AddCommand(accountsCmd)
}
