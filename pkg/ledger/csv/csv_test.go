package csv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

func expense(ref string) api.Expense {
	return api.Expense{
		Owner:     "alice",
		Merchant:  "Daraz, Nepal",
		Amount:    decimal.RequireFromString("1250.5"),
		Currency:  "NPR",
		Date:      time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC),
		Category:  api.CategoryHouseholdBill,
		Reference: ref,
	}
}

func TestCreateExpense(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	ctx := context.Background()

	w, err := New(Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id, err := w.CreateExpense(ctx, expense("a1"))
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	if id != "a1" {
		t.Errorf("entry id: got %q, want a1", id)
	}
	if _, err := w.CreateExpense(ctx, expense("a1")); err != nil {
		t.Fatalf("CreateExpense retry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening keeps the header single and remembers a1.
	w, err = New(Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := w.CreateExpense(ctx, expense("a1")); err != nil {
		t.Fatalf("CreateExpense after reopen: %v", err)
	}
	if _, err := w.CreateExpense(ctx, expense("a2")); err != nil {
		t.Fatalf("CreateExpense a2: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		"Date,Merchant,Amount,Currency,Category,Owner,Reference",
		`2024-02-03,"Daraz, Nepal",1250.50,NPR,Household Bill,alice,a1`,
		`2024-02-03,"Daraz, Nepal",1250.50,NPR,Household Bill,alice,a2`,
	}
	if len(lines) != len(want) {
		t.Fatalf("lines: got %d (%q), want %d", len(lines), lines, len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestCreateExpense_RequiresReference(t *testing.T) {
	w, err := New(Config{FilePath: filepath.Join(t.TempDir(), "l.csv")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if _, err := w.CreateExpense(context.Background(), expense("")); err == nil {
		t.Error("expected error for missing reference")
	}
}
