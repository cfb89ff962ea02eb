// Package api defines the core records and collaborator interfaces for kharcha.
package api

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the connection state of a mail account.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	// AccountInactive accounts need the user to reconnect before syncing again.
	AccountInactive AccountStatus = "INACTIVE"
)

// MailAccount is a user's connected mailbox together with its sync state.
// Only the sync coordinator mutates the sync fields.
type MailAccount struct {
	ID            string        `json:"id"`
	Owner         string        `json:"owner"`
	Address       string        `json:"address"`
	Provider      string        `json:"provider"`
	CredentialRef string        `json:"credential_ref"`
	Status        AccountStatus `json:"status"`

	LastSuccessfulSyncAt *time.Time `json:"last_successful_sync_at,omitempty"`
	// SyncInProgress implies SyncTaskRef and SyncStartedAt are set.
	SyncInProgress        bool       `json:"sync_in_progress"`
	SyncTaskRef           string     `json:"sync_task_ref,omitempty"`
	SyncStartedAt         *time.Time `json:"sync_started_at,omitempty"`
	SyncCursor            string     `json:"sync_cursor,omitempty"`
	ConsecutiveErrorCount int        `json:"consecutive_error_count"`
	LastError             string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessingStatus tracks a message through classification and extraction.
type ProcessingStatus string

const (
	MessagePending    ProcessingStatus = "PENDING"
	MessageProcessing ProcessingStatus = "PROCESSING"
	MessageProcessed  ProcessingStatus = "PROCESSED"
	MessageSkipped    ProcessingStatus = "SKIPPED"
)

// Done reports whether the message needs no further work.
func (s ProcessingStatus) Done() bool {
	return s == MessageProcessed || s == MessageSkipped
}

// MailMessage is a fetched message, unique per (AccountID, ProviderMessageID).
type MailMessage struct {
	ID                  string           `json:"id"`
	AccountID           string           `json:"account_id"`
	ProviderMessageID   string           `json:"provider_message_id"`
	Subject             string           `json:"subject"`
	Sender              string           `json:"sender"`
	ReceivedAt          time.Time        `json:"received_at"`
	BodyText            string           `json:"body_text,omitempty"`
	BodyHTML            string           `json:"body_html,omitempty"`
	ProcessingStatus    ProcessingStatus `json:"processing_status"`
	FinancialConfidence *float64         `json:"financial_confidence,omitempty"`
	HasAttachments      bool             `json:"has_attachments"`
	CreatedAt           time.Time        `json:"created_at"`
}

// ExtractionSource records where extracted data came from.
type ExtractionSource struct {
	Provider      string   `json:"provider,omitempty"`
	Sender        string   `json:"sender,omitempty"`
	Subject       string   `json:"subject,omitempty"`
	Signals       []string `json:"signals,omitempty"`
	SignalVersion string   `json:"signal_version,omitempty"`
}

// ExtractedData is the structured output of the extractor. Every list is
// ordered best candidate first; an empty list means nothing was found.
type ExtractedData struct {
	Amounts        []string         `json:"amounts"`
	Dates          []string         `json:"dates"`
	Merchants      []string         `json:"merchants"`
	TransactionIDs []string         `json:"transaction_ids"`
	Currency       string           `json:"currency,omitempty"`
	Source         ExtractionSource `json:"source"`
}

// ApprovalStatus is the review state of an approval. Only PENDING is mutable.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Valid reports whether s is a known approval status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// Approval is one extraction outcome awaiting a human decision.
// There is at most one approval per mail message.
type Approval struct {
	ID                string         `json:"id"`
	MailMessageID     string         `json:"mail_message_id"`
	Owner             string         `json:"owner"`
	ExtractedData     ExtractedData  `json:"extracted_data"`
	ConfidenceScore   float64        `json:"confidence_score"`
	Status            ApprovalStatus `json:"approval_status"`
	SuggestedCategory Category       `json:"suggested_category,omitempty"`
	ExpenseID         string         `json:"expense_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
}

// MessageSummary is a provider message reference returned by a listing.
type MessageSummary struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Page is one batch of a mailbox listing. An empty NextCursor ends the listing.
type Page struct {
	Messages   []MessageSummary
	NextCursor string
}

// MessageBody is the full content of a provider message.
type MessageBody struct {
	Subject        string
	Sender         string
	BodyText       string
	BodyHTML       string
	ReceivedAt     time.Time
	HasAttachments bool
	// Headers holds selected raw headers, e.g. List-Unsubscribe.
	Headers map[string]string
}

// FetchOptions bounds a mailbox listing.
type FetchOptions struct {
	MaxResults int
	Cursor     string
	// Since narrows the listing to messages received after it when non-zero.
	Since time.Time
}

// Mailbox fetches messages from a remote mail provider using a stored credential.
// Implementations return *AuthError for rejected credentials and *TransientError
// for failures worth retrying.
type Mailbox interface {
	Fetch(ctx context.Context, credential string, opts FetchOptions) (Page, error)
	FetchBody(ctx context.Context, credential, messageID string) (MessageBody, error)
}

// Expense is the final value set written to the ledger when an approval is accepted.
type Expense struct {
	Owner    string
	Merchant string
	Amount   decimal.Decimal
	Currency string
	Date     time.Time
	Category Category
	// Reference is the approval ID; writers use it to make retries idempotent.
	Reference string
}

// LedgerWriter creates ledger entries for approved expenses.
type LedgerWriter interface {
	CreateExpense(ctx context.Context, e Expense) (entryID string, err error)
}
