package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/daemon"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/mailbox/mbox"
)

var (
	dumpOut string
	dumpMax int
)

var dumpCmd = &cobra.Command{
	Use:   "dump <credential-ref>",
	Short: "Export a mailbox to an mbox file",
	Long: `Export messages from the configured mailbox to an mbox file.

The file can be replayed offline with the mbox mailbox plugin, which is how
test fixtures are collected from a real account.

Examples:
  kharcha dump alice@example.com --out data/mbox/alice.mbox --max 200`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *daemon.App) error {
			f, err := os.OpenFile(dumpOut, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("creating %s: %w", dumpOut, err)
			}
			defer f.Close()

			exp := mbox.NewExporter(f)
			n, err := mbox.Export(ctx, app.Mailbox, args[0], exp, dumpMax)
			if cerr := exp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			logger.Info("mailbox exported", "credential", args[0], "messages", n, "file", dumpOut)
			fmt.Printf("%s %d message(s) to %s\n", successStyle.Render("exported"), n, dumpOut)
			return nil
		})
	},
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpOut, "out", "o", "dump.mbox", "output mbox file")
	dumpCmd.Flags().IntVar(&dumpMax, "max", 100, "maximum messages, 0 for all")
	rootCmd.AddCommand(dumpCmd)
}
