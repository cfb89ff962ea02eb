// Package postgres provides a ledger writer that stores expenses in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

//go:embed schema.sql
var schemaSQL string

// Writer writes expenses to the ledger_entries table.
type Writer struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New returns a Writer on an existing pool and makes sure the table exists.
func New(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{pool: pool, logger: logger.With("component", "ledger_postgres")}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return w, nil
}

// CreateExpense inserts one ledger entry. A second call with the same
// Reference returns the existing entry's ID instead of booking it twice.
func (w *Writer) CreateExpense(ctx context.Context, e api.Expense) (string, error) {
	if e.Reference == "" {
		return "", errors.New("expense reference is required")
	}

	var id string
	err := w.pool.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, reference, owner, merchant, amount, currency, entry_date, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (reference) DO UPDATE SET reference = EXCLUDED.reference
		RETURNING id
	`,
		uuid.NewString(),
		e.Reference,
		e.Owner,
		e.Merchant,
		e.Amount.StringFixed(2),
		e.Currency,
		e.Date,
		string(e.Category),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("inserting ledger entry: %w", err)
	}

	w.logger.Info("ledger entry written",
		"entry_id", id,
		"reference", e.Reference,
		"owner", e.Owner,
		"amount", e.Amount.StringFixed(2),
		"currency", e.Currency,
	)
	return id, nil
}
