// Package sheets implements a ledger writer that appends expenses to a Google Sheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

// Scopes are the OAuth scopes the writer needs.
var Scopes = []string{sheets.SpreadsheetsScope}

// DefaultRateLimitDelay is how long to wait after a 429 before retrying.
const DefaultRateLimitDelay = 60 * time.Second

var header = []any{"Date", "Merchant", "Amount", "Currency", "Category", "Owner", "Reference"}

// Config holds configuration for the Sheets writer.
type Config struct {
	// SheetTitle is the title for a new spreadsheet (if SheetID is empty).
	SheetTitle string `json:"sheet_title"`
	// SheetID is the ID of an existing spreadsheet to use.
	SheetID string `json:"sheet_id"`
	// SheetName is the tab within the spreadsheet. Defaults to "Expenses".
	SheetName string `json:"sheet_name"`
	// RateLimitDelay overrides DefaultRateLimitDelay.
	RateLimitDelay time.Duration `json:"-"`
}

// Writer appends one row per approved expense. The Reference column makes
// retries idempotent: a reference already present is not appended again.
type Writer struct {
	client        *sheets.Service
	spreadsheetID string
	sheetName     string
	retryDelay    time.Duration
	logger        *slog.Logger

	mu sync.Mutex
}

// New creates a Sheets writer, creating the spreadsheet when cfg.SheetID is empty.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Expenses"
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = DefaultRateLimitDelay
	}

	client, err := sheets.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	w := &Writer{
		client:     client,
		sheetName:  cfg.SheetName,
		retryDelay: cfg.RateLimitDelay,
		logger:     logger.With("component", "ledger_sheets"),
	}

	id, err := w.initSpreadsheet(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing spreadsheet: %w", err)
	}
	w.spreadsheetID = id

	w.logger.Info("sheets ledger initialized", "spreadsheet_id", id, "sheet", cfg.SheetName)
	return w, nil
}

func (w *Writer) initSpreadsheet(ctx context.Context, cfg Config) (string, error) {
	if cfg.SheetID != "" {
		ss, err := w.client.Spreadsheets.Get(cfg.SheetID).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("getting spreadsheet %s: %w", cfg.SheetID, err)
		}
		w.logger.Info("using existing spreadsheet", "title", ss.Properties.Title, "id", cfg.SheetID)
		return ss.SpreadsheetId, nil
	}

	ss, err := w.client.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: cfg.SheetTitle},
		Sheets:     []*sheets.Sheet{{Properties: &sheets.SheetProperties{Title: cfg.SheetName}}},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("creating spreadsheet: %w", err)
	}
	w.logger.Info("created new spreadsheet", "title", cfg.SheetTitle, "id", ss.SpreadsheetId)

	headerRange := fmt.Sprintf("%s!A1:G1", cfg.SheetName)
	_, err = w.client.Spreadsheets.Values.Update(ss.SpreadsheetId, headerRange, &sheets.ValueRange{Values: [][]any{header}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("writing headers: %w", err)
	}
	return ss.SpreadsheetId, nil
}

// CreateExpense appends the expense unless its reference is already in the sheet.
// The returned ID is "<spreadsheet>/<reference>".
func (w *Writer) CreateExpense(ctx context.Context, e api.Expense) (string, error) {
	if e.Reference == "" {
		return "", errors.New("expense reference is required")
	}
	entryID := w.spreadsheetID + "/" + e.Reference

	w.mu.Lock()
	defer w.mu.Unlock()

	exists, err := w.hasReference(ctx, e.Reference)
	if err != nil {
		return "", err
	}
	if exists {
		w.logger.Info("expense already in sheet", "reference", e.Reference)
		return entryID, nil
	}

	row := &sheets.ValueRange{Values: [][]any{{
		e.Date.Format(time.DateOnly),
		e.Merchant,
		e.Amount.StringFixed(2),
		e.Currency,
		string(e.Category),
		e.Owner,
		e.Reference,
	}}}
	err = w.withRateLimitRetry(ctx, func() error {
		_, err := w.client.Spreadsheets.Values.Append(w.spreadsheetID, fmt.Sprintf("%s!A:G", w.sheetName), row).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("appending expense row: %w", err)
	}

	w.logger.Info("wrote expense row", "reference", e.Reference, "merchant", e.Merchant)
	return entryID, nil
}

func (w *Writer) hasReference(ctx context.Context, reference string) (bool, error) {
	var resp *sheets.ValueRange
	err := w.withRateLimitRetry(ctx, func() error {
		var err error
		resp, err = w.client.Spreadsheets.Values.Get(w.spreadsheetID, fmt.Sprintf("%s!G:G", w.sheetName)).Context(ctx).Do()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("reading reference column: %w", err)
	}
	for _, row := range resp.Values {
		if len(row) > 0 && fmt.Sprint(row[0]) == reference {
			return true, nil
		}
	}
	return false, nil
}

func (w *Writer) withRateLimitRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
				w.logger.Warn("rate limited, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(3),
		retry.Delay(w.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}
