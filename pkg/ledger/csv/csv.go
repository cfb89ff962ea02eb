// Package csv implements a ledger writer that appends expenses to a CSV file.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

var headers = []string{"Date", "Merchant", "Amount", "Currency", "Category", "Owner", "Reference"}

const referenceColumn = 6

// Config holds configuration for the CSV writer.
type Config struct {
	// FilePath is the path to the CSV output file.
	FilePath string
}

// Writer appends one record per expense. References already present in the
// file are remembered, so a retried CreateExpense is a no-op.
type Writer struct {
	filePath string
	file     *os.File
	writer   *csv.Writer
	seen     map[string]struct{}
	mu       sync.Mutex
	logger   *slog.Logger
}

// New opens (or creates) the CSV file and loads the references it already holds.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}

	w := &Writer{
		filePath: cfg.FilePath,
		file:     file,
		writer:   csv.NewWriter(file),
		seen:     make(map[string]struct{}),
		logger:   logger.With("component", "ledger_csv"),
	}

	if err := w.load(); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			return nil, fmt.Errorf("loading csv file: %w (close error: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("loading csv file: %w", err)
	}

	w.logger.Info("csv ledger initialized", "file", cfg.FilePath, "entries", len(w.seen))
	return w, nil
}

func (w *Writer) load() error {
	stat, err := w.file.Stat()
	if err != nil {
		return err
	}
	if stat.Size() == 0 {
		return w.writeRecord(headers)
	}

	r := csv.NewReader(io.NewSectionReader(w.file, 0, stat.Size()))
	r.FieldsPerRecord = -1
	first := true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if first {
			first = false
			continue
		}
		if len(rec) > referenceColumn {
			w.seen[rec[referenceColumn]] = struct{}{}
		}
	}
}

func (w *Writer) writeRecord(rec []string) error {
	if err := w.writer.Write(rec); err != nil {
		return err
	}
	w.writer.Flush()
	return w.writer.Error()
}

// CreateExpense appends the expense and returns its reference as the entry ID.
func (w *Writer) CreateExpense(_ context.Context, e api.Expense) (string, error) {
	if e.Reference == "" {
		return "", errors.New("expense reference is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[e.Reference]; ok {
		return e.Reference, nil
	}

	record := []string{
		e.Date.Format(time.DateOnly),
		e.Merchant,
		e.Amount.StringFixed(2),
		e.Currency,
		string(e.Category),
		e.Owner,
		e.Reference,
	}
	if err := w.writeRecord(record); err != nil {
		return "", fmt.Errorf("writing csv record: %w", err)
	}
	w.seen[e.Reference] = struct{}{}

	w.logger.Debug("wrote expense to csv", "reference", e.Reference)
	return e.Reference, nil
}

// Close closes the CSV file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}

	w.logger.Info("csv ledger closed", "file", w.filePath)
	return nil
}
