package json

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

func expense(ref string) api.Expense {
	return api.Expense{
		Owner:     "alice",
		Merchant:  "Himalayan Java",
		Amount:    decimal.RequireFromString("450"),
		Currency:  "NPR",
		Date:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Category:  api.CategoryFood,
		Reference: ref,
	}
}

func TestCreateExpense(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	ctx := context.Background()

	w, err := New(Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, ref := range []string{"a1", "a1", "a2"} {
		id, err := w.CreateExpense(ctx, expense(ref))
		if err != nil {
			t.Fatalf("CreateExpense %s: %v", ref, err)
		}
		if id != ref {
			t.Errorf("entry id: got %q, want %q", id, ref)
		}
	}
	if got := w.Count(); got != 2 {
		t.Fatalf("count: got %d, want 2", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("file is not a JSON array: %v", err)
	}
	if rows[0]["date"] != "2024-01-15" || rows[0]["amount"] != "450" || rows[0]["category"] != "Food" {
		t.Errorf("first row: got %v", rows[0])
	}

	// Reopening remembers what was booked.
	w, err = New(Config{FilePath: path}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := w.CreateExpense(ctx, expense("a2")); err != nil {
		t.Fatal(err)
	}
	if got := w.Count(); got != 2 {
		t.Errorf("count after reopen: got %d, want 2", got)
	}
}

func TestCreateExpense_RequiresReference(t *testing.T) {
	w, err := New(Config{FilePath: filepath.Join(t.TempDir(), "ledger.json")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.CreateExpense(context.Background(), expense("")); err == nil {
		t.Error("expected error for empty reference")
	}
}

func TestNew_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{FilePath: path}, nil); err == nil {
		t.Error("expected error for corrupt file")
	}
}
