package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store/storetest"
)

func TestStore(t *testing.T) {
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

	s, err := New(ctx, pool, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Migrating twice is a no-op.
	if _, err := New(ctx, pool, nil); err != nil {
		t.Fatalf("New again: %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		if _, err := pool.Exec(ctx, `TRUNCATE mail_accounts CASCADE`); err != nil {
			t.Fatalf("truncating: %v", err)
		}
		return s
	})
}
