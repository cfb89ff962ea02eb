package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("kharcha"),
		tcpostgres.WithUsername("kharcha"),
		tcpostgres.WithPassword("kharcha"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestCreateExpense_Idempotent(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	w, err := New(ctx, pool, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e := api.Expense{
		Owner:     "alice",
		Merchant:  "Bhatbhateni Supermarket",
		Amount:    decimal.RequireFromString("1500"),
		Currency:  "NPR",
		Date:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Category:  api.CategoryFood,
		Reference: "approval-1",
	}

	first, err := w.CreateExpense(ctx, e)
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	second, err := w.CreateExpense(ctx, e)
	if err != nil {
		t.Fatalf("CreateExpense retry: %v", err)
	}
	if first != second {
		t.Errorf("entry id: got %q on retry, want %q", second, first)
	}

	var (
		count  int
		amount string
	)
	if err := pool.QueryRow(ctx, `SELECT COUNT(*), MAX(amount)::text FROM ledger_entries WHERE reference = $1`, e.Reference).Scan(&count, &amount); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Errorf("rows: got %d, want 1", count)
	}
	if amount != "1500.00" {
		t.Errorf("amount: got %q, want 1500.00", amount)
	}
}

func TestCreateExpense_RequiresReference(t *testing.T) {
	w := &Writer{}
	if _, err := w.CreateExpense(context.Background(), api.Expense{}); err == nil {
		t.Error("expected error for missing reference")
	}
}
