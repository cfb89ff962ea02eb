// Package json implements a ledger writer that keeps expenses in a JSON file.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

// Config holds configuration for the JSON writer.
type Config struct {
	// FilePath is the path to the JSON output file.
	FilePath string
}

// entry is one booked expense as stored in the file.
type entry struct {
	Reference string          `json:"reference"`
	Owner     string          `json:"owner"`
	Date      string          `json:"date"`
	Merchant  string          `json:"merchant"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Category  api.Category    `json:"category"`
}

func toEntry(e api.Expense) entry {
	return entry{
		Reference: e.Reference,
		Owner:     e.Owner,
		Date:      e.Date.Format(time.DateOnly),
		Merchant:  e.Merchant,
		Amount:    e.Amount,
		Currency:  e.Currency,
		Category:  e.Category,
	}
}

// Writer keeps every booked expense as one JSON array. The file is rewritten
// on each booking through a temporary file and a rename, so a crash leaves
// either the old or the new array on disk.
type Writer struct {
	filePath string
	entries  []entry
	index    map[string]struct{}
	mu       sync.Mutex
	logger   *slog.Logger
}

// New creates a JSON writer, loading expenses already in the file.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer{
		filePath: cfg.FilePath,
		index:    make(map[string]struct{}),
		logger:   logger.With("component", "ledger_json"),
	}

	if err := w.loadExisting(); err != nil {
		return nil, fmt.Errorf("loading json ledger %s: %w", cfg.FilePath, err)
	}

	w.logger.Info("json ledger initialized", "file", cfg.FilePath, "existing_count", len(w.entries))
	return w, nil
}

func (w *Writer) loadExisting() error {
	data, err := os.ReadFile(w.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &w.entries); err != nil {
		return err
	}
	for _, e := range w.entries {
		w.index[e.Reference] = struct{}{}
	}
	return nil
}

// CreateExpense books e and returns its reference as the entry ID. A
// reference already in the file is not booked again.
func (w *Writer) CreateExpense(_ context.Context, e api.Expense) (string, error) {
	if e.Reference == "" {
		return "", errors.New("expense reference is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.index[e.Reference]; ok {
		return e.Reference, nil
	}

	next := append(w.entries[:len(w.entries):len(w.entries)], toEntry(e))
	if err := w.save(next); err != nil {
		return "", err
	}
	w.entries = next
	w.index[e.Reference] = struct{}{}

	w.logger.Debug("wrote expense to json", "reference", e.Reference, "total_count", len(w.entries))
	return e.Reference, nil
}

func (w *Writer) save(entries []entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.filePath), ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing json file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing json file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), w.filePath); err != nil {
		return fmt.Errorf("replacing json file: %w", err)
	}
	return nil
}

// Count returns the number of booked expenses.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
