package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/plugins"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/client"
)

var setupForce bool

var setupCmd = &cobra.Command{
	Use:   "setup <credential-ref>",
	Short: "Authorize Google access for a credential reference",
	Long: `Run the OAuth consent flow and store the token under the credential
reference, usually the account's address.

To get the client secret file:
  1. Go to https://console.cloud.google.com/apis/credentials
  2. Create an OAuth 2.0 Client ID (Desktop application)
  3. Download the JSON file to the configured mailbox.client_secret_file`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ref := args[0]

		scopes, err := plugins.Default().AllScopes(cfg.Mailbox.Plugin, cfg.Ledger.Plugin)
		if err != nil {
			return err
		}
		if len(scopes) == 0 {
			fmt.Printf("%s and %s need no Google authorization\n", cfg.Mailbox.Plugin, cfg.Ledger.Plugin)
			return nil
		}

		secrets := cfg.Mailbox.ClientSecretFile
		if _, err := os.Stat(secrets); os.IsNotExist(err) {
			return fmt.Errorf("client secret file not found: %s (run 'kharcha setup --help')", secrets)
		}

		store, err := client.NewStore(secrets, cfg.Mailbox.TokenDir, logger, scopes...)
		if err != nil {
			return err
		}
		if store.HasToken(ref) && !setupForce {
			fmt.Printf("Already authorized: %s\n", ref)
			fmt.Println(mutedStyle.Render("To re-authorize, run: kharcha setup --force " + ref))
			return nil
		}

		fmt.Println(boldStyle.Render("Required scopes:"))
		for _, s := range scopes {
			fmt.Println("  -", s)
		}
		fmt.Println()

		ctx, cancel := signalContext()
		defer cancel()
		if err := store.Authorize(ctx, ref, os.Stdout); err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}

		path, _ := store.TokenPath(ref)
		fmt.Println(successStyle.Render("Setup complete."), "Token saved to", path)
		return nil
	},
}

func init() {
	setupCmd.Flags().BoolVar(&setupForce, "force", false, "re-run consent even if a token exists")
	rootCmd.AddCommand(setupCmd)
}

