package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/api/option"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

// fakeSheet serves the few Sheets endpoints the writer calls.
type fakeSheet struct {
	mu          sync.Mutex
	rows        [][]any
	appends     int
	rateLimited int
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
		values := make([][]any, 0, len(f.rows))
		for _, row := range f.rows {
			values = append(values, []any{row[6]})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": values})
	case r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet1", "properties": map[string]any{"title": "Kharcha"}})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		if f.rateLimited > 0 {
			f.rateLimited--
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"slow down"}}`))
			return
		}
		var body struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.rows = append(f.rows, body.Values...)
		f.appends++
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet1"})
	default:
		http.NotFound(w, r)
	}
}

func TestCreateExpense(t *testing.T) {
	fake := &fakeSheet{rateLimited: 1}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	w, err := New(ctx, srv.Client(), Config{SheetID: "sheet1", RateLimitDelay: time.Millisecond}, nil,
		option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e := api.Expense{
		Owner:     "alice",
		Merchant:  "Himalayan Java",
		Amount:    decimal.RequireFromString("450"),
		Currency:  "NPR",
		Date:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Category:  api.CategoryFood,
		Reference: "approval-1",
	}

	id, err := w.CreateExpense(ctx, e)
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	if id != "sheet1/approval-1" {
		t.Errorf("entry id: got %q", id)
	}
	if _, err := w.CreateExpense(ctx, e); err != nil {
		t.Fatalf("CreateExpense retry: %v", err)
	}

	if fake.appends != 1 {
		t.Fatalf("appends: got %d, want 1", fake.appends)
	}
	row := fake.rows[0]
	if row[0] != "2024-01-15" || row[2] != "450.00" || row[4] != "Food" {
		t.Errorf("row: got %v", row)
	}
}
