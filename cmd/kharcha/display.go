package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

var (
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	boldStyle    = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func accountState(a api.MailAccount) string {
	switch {
	case a.Status != api.AccountActive:
		return errStyle.Render(string(a.Status))
	case a.SyncInProgress:
		return warnStyle.Render("SYNCING")
	case a.ConsecutiveErrorCount > 0:
		return warnStyle.Render(fmt.Sprintf("ERRORS(%d)", a.ConsecutiveErrorCount))
	default:
		return successStyle.Render("OK")
	}
}

func approvalState(s api.ApprovalStatus) string {
	switch s {
	case api.ApprovalApproved:
		return successStyle.Render(string(s))
	case api.ApprovalRejected:
		return errStyle.Render(string(s))
	default:
		return warnStyle.Render(string(s))
	}
}

func timeAgo(t *time.Time) string {
	if t == nil {
		return mutedStyle.Render("never")
	}
	d := time.Since(*t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func first(vals []string) string {
	if len(vals) == 0 {
		return mutedStyle.Render("-")
	}
	return vals[0]
}

func printAccount(a api.MailAccount) {
	fmt.Printf("%s  %s  %s\n", boldStyle.Render(a.Address), accountState(a), mutedStyle.Render(a.ID))
	fmt.Printf("  owner %s, provider %s, last sync %s\n", a.Owner, a.Provider, timeAgo(a.LastSuccessfulSyncAt))
	if a.SyncInProgress {
		fmt.Printf("  task %s started %s\n", a.SyncTaskRef, timeAgo(a.SyncStartedAt))
	}
	if a.LastError != "" {
		fmt.Printf("  %s %s\n", errStyle.Render("last error:"), a.LastError)
	}
}

func printApproval(a api.Approval) {
	d := a.ExtractedData
	fmt.Printf("%s  %s  %.2f\n", boldStyle.Render(a.ID), approvalState(a.Status), a.ConfidenceScore)
	fmt.Printf("  %s %s  %s  %s  %s\n",
		d.Currency, first(d.Amounts), first(d.Merchants), first(d.Dates),
		mutedStyle.Render(string(a.SuggestedCategory)))
	if a.ExpenseID != "" {
		fmt.Printf("  booked as %s\n", a.ExpenseID)
	}
}
