package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/plugins"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List available mailbox and ledger plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := plugins.Default()

		fmt.Println(boldStyle.Render("Mailboxes"))
		for _, p := range reg.ListMailboxes() {
			fmt.Printf("  %-10s %s\n", p.Name(), mutedStyle.Render(p.Description()))
		}
		fmt.Println(boldStyle.Render("Ledgers"))
		for _, p := range reg.ListLedgers() {
			fmt.Printf("  %-10s %s\n", p.Name(), mutedStyle.Render(p.Description()))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}
