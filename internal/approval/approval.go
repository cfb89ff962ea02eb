// Package approval resolves extracted transactions into ledger entries under
// human review.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/metrics"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

const (
	// DefaultCurrency is used when neither the override nor the extraction names one.
	DefaultCurrency = "NPR"
	// ClaimTimeout bounds how long an approve may hold an approval before
	// another approve can take it over.
	ClaimTimeout = 5 * time.Minute
)

// Override carries reviewer-supplied values. Non-empty fields replace the
// extracted primaries.
type Override struct {
	Merchant string `json:"merchant,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Date     string `json:"date,omitempty"`
	Category string `json:"category,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// ListOptions filters and orders List.
type ListOptions struct {
	Owner  string
	Status api.ApprovalStatus
	// SortBy is created_at (default), confidence or status.
	SortBy string
	Desc   bool
	Limit  int
	Offset int
}

// Service is the approval ledger.
type Service struct {
	store  store.Approvals
	ledger api.LedgerWriter
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service writing approved expenses to ledger.
func New(approvals store.Approvals, ledger api.LedgerWriter, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  approvals,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "approval"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one approval.
func (s *Service) Get(ctx context.Context, id string) (api.Approval, error) {
	return s.store.GetApproval(ctx, id)
}

// List returns approvals matching opts.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]api.Approval, error) {
	var problems []api.FieldError
	sortBy := store.SortKey(opts.SortBy)
	if sortBy == "" {
		sortBy = store.SortCreatedAt
	}
	if !sortBy.Valid() {
		problems = append(problems, api.FieldError{Field: "sort_by", Problem: "must be created_at, confidence or status"})
	}
	if opts.Status != "" && !opts.Status.Valid() {
		problems = append(problems, api.FieldError{Field: "status", Problem: "must be PENDING, APPROVED or REJECTED"})
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		problems = append(problems, api.FieldError{Field: "limit", Problem: "limit and offset must not be negative"})
	}
	if len(problems) > 0 {
		return nil, &api.ValidationError{At: s.now(), Fields: problems}
	}

	return s.store.ListApprovals(ctx, store.ApprovalQuery{
		Owner:  opts.Owner,
		Status: opts.Status,
		SortBy: sortBy,
		Desc:   opts.Desc,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// Approve validates the final values, writes the expense to the ledger and
// marks the approval APPROVED. The approval is claimed for the duration of
// the ledger write so a concurrent Reject cannot resolve it underneath. On a
// validation or ledger error the approval stays PENDING.
func (s *Service) Approve(ctx context.Context, id string, ov *Override) (api.Approval, error) {
	a, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return api.Approval{}, err
	}
	if a.Status != api.ApprovalPending {
		metrics.ApprovalsResolved.WithLabelValues("invalid_state").Inc()
		return a, &api.InvalidStateError{ApprovalID: id, Status: a.Status, At: s.now()}
	}

	expense, problems := FinalValues(a, ov)
	if len(problems) > 0 {
		metrics.ApprovalsResolved.WithLabelValues("invalid").Inc()
		s.logger.Info("approval rejected by validation", "approval_id", id, "fields", len(problems))
		return a, &api.ValidationError{ApprovalID: id, At: s.now(), Fields: problems}
	}

	claimRef := uuid.NewString()
	now := s.now()
	if a, err = s.store.ClaimApproval(ctx, id, claimRef, now, now.Add(-ClaimTimeout)); err != nil {
		return a, s.unresolvable(id, a, err)
	}

	entryID, err := s.ledger.CreateExpense(ctx, expense)
	if err != nil {
		s.logger.Error("ledger write failed", "approval_id", id, "error", err)
		if rerr := s.store.ReleaseApproval(context.WithoutCancel(ctx), id, claimRef); rerr != nil {
			s.logger.Error("releasing approval claim failed", "approval_id", id, "error", rerr)
		}
		return a, fmt.Errorf("writing expense for approval %s: %w", id, err)
	}

	resolved, err := s.store.ResolveApproval(ctx, id, claimRef, api.ApprovalApproved, s.now(), entryID)
	if err != nil {
		// Typically the claim outlived ClaimTimeout and was taken over. The
		// ledger entry carries the approval id for reconciliation.
		s.logger.Error("approval claim lost after ledger write", "approval_id", id, "entry_id", entryID, "error", err)
		return resolved, s.unresolvable(id, resolved, err)
	}

	metrics.ApprovalsResolved.WithLabelValues("approved").Inc()
	s.logger.Info("approval approved",
		"approval_id", id,
		"owner", a.Owner,
		"entry_id", entryID,
		"amount", expense.Amount.StringFixed(2),
		"category", expense.Category,
	)
	return resolved, nil
}

// Reject marks a PENDING approval REJECTED. It fails with
// api.ErrApprovalInProgress while an Approve holds the approval.
func (s *Service) Reject(ctx context.Context, id string) (api.Approval, error) {
	resolved, err := s.store.ResolveApproval(ctx, id, "", api.ApprovalRejected, s.now(), "")
	if err != nil {
		return resolved, s.unresolvable(id, resolved, err)
	}

	metrics.ApprovalsResolved.WithLabelValues("rejected").Inc()
	s.logger.Info("approval rejected", "approval_id", id, "owner", resolved.Owner)
	return resolved, nil
}

// unresolvable maps a failed claim or resolve onto the caller-facing error.
func (s *Service) unresolvable(id string, current api.Approval, err error) error {
	switch {
	case errors.Is(err, store.ErrNotPending):
		metrics.ApprovalsResolved.WithLabelValues("invalid_state").Inc()
		return &api.InvalidStateError{ApprovalID: id, Status: current.Status, At: s.now()}
	case errors.Is(err, store.ErrApprovalClaimed):
		metrics.ApprovalsResolved.WithLabelValues("invalid_state").Inc()
		return fmt.Errorf("approval %s: %w", id, api.ErrApprovalInProgress)
	default:
		return err
	}
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// FinalValues merges ov over the approval's extracted primaries and checks
// the result. It returns every problem found, not just the first.
func FinalValues(a api.Approval, ov *Override) (api.Expense, []api.FieldError) {
	if ov == nil {
		ov = &Override{}
	}
	data := a.ExtractedData
	var problems []api.FieldError

	merchant := strings.TrimSpace(pick(ov.Merchant, first(data.Merchants)))
	if merchant == "" {
		problems = append(problems, api.FieldError{Field: "merchant", Problem: "is required"})
	}

	var amount decimal.Decimal
	switch raw := strings.ReplaceAll(strings.TrimSpace(pick(ov.Amount, first(data.Amounts))), ",", ""); {
	case raw == "":
		problems = append(problems, api.FieldError{Field: "amount", Problem: "is required"})
	default:
		d, err := decimal.NewFromString(raw)
		switch {
		case err != nil:
			problems = append(problems, api.FieldError{Field: "amount", Problem: "is not a number"})
		case !d.IsPositive():
			problems = append(problems, api.FieldError{Field: "amount", Problem: "must be greater than zero"})
		default:
			amount = d.Round(2)
		}
	}

	var date time.Time
	switch raw := strings.TrimSpace(pick(ov.Date, first(data.Dates))); {
	case raw == "":
		problems = append(problems, api.FieldError{Field: "date", Problem: "is required"})
	default:
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			problems = append(problems, api.FieldError{Field: "date", Problem: "must be a calendar date in YYYY-MM-DD form"})
		}
		date = d
	}

	category := a.SuggestedCategory
	if ov.Category != "" {
		c, ok := api.ParseCategory(ov.Category)
		if !ok {
			problems = append(problems, api.FieldError{Field: "category", Problem: "must be one of " + categoryList()})
		}
		category = c
	}
	if category == "" {
		category = api.CategoryOther
	}

	currency := strings.ToUpper(strings.TrimSpace(pick(ov.Currency, pick(data.Currency, DefaultCurrency))))
	if !currencyPattern.MatchString(currency) {
		problems = append(problems, api.FieldError{Field: "currency", Problem: "must be a three-letter code"})
	}

	return api.Expense{
		Owner:     a.Owner,
		Merchant:  merchant,
		Amount:    amount,
		Currency:  currency,
		Date:      date,
		Category:  category,
		Reference: a.ID,
	}, problems
}

func pick(override, fallback string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return fallback
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func categoryList() string {
	names := make([]string, 0, len(api.Categories()))
	for _, c := range api.Categories() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}
