// Package store defines persistence for accounts, messages and approvals.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

var (
	// ErrLockLost is returned when completing or failing a sync whose lock
	// no longer belongs to the calling task.
	ErrLockLost = errors.New("sync lock no longer held by task")
	// ErrNotPending is returned when resolving an approval that is already resolved.
	ErrNotPending = errors.New("approval is not pending")
	// ErrApprovalClaimed is returned when an approval is claimed by another
	// caller, or when the caller's claim was taken over.
	ErrApprovalClaimed = errors.New("approval is claimed")
)

// SyncSuccess describes a sync that finished without error.
type SyncSuccess struct {
	At time.Time
	// Partial runs stopped at the per-run message cap. They leave
	// LastSuccessfulSyncAt alone so the next run lists the same window again.
	Partial bool
}

// SyncFailure describes how a sync ended badly.
type SyncFailure struct {
	Message string
	// Deactivate marks the account INACTIVE, used for credential failures.
	Deactivate bool
	At         time.Time
}

// Accounts persists mail accounts and owns the sync lock.
type Accounts interface {
	CreateAccount(ctx context.Context, acct api.MailAccount) (api.MailAccount, error)
	GetAccount(ctx context.Context, id string) (api.MailAccount, error)
	// ListAccounts lists every account when owner is empty.
	ListAccounts(ctx context.Context, owner string) ([]api.MailAccount, error)

	// AcquireSyncLock atomically takes the lock when the account is ACTIVE and
	// either unlocked or locked since at or before staleBefore. It reports
	// false, nil when another live sync holds it.
	AcquireSyncLock(ctx context.Context, id, taskRef string, now, staleBefore time.Time) (bool, error)
	// SaveSyncCursor records the provider cursor for a task that holds the lock.
	SaveSyncCursor(ctx context.Context, id, taskRef, cursor string) error
	// CompleteSync releases the lock, clears the error count and cursor, and
	// stamps LastSuccessfulSyncAt unless the run was partial.
	CompleteSync(ctx context.Context, id, taskRef string, done SyncSuccess) error
	// FailSync releases the lock, increments the error count and records the message.
	FailSync(ctx context.Context, id, taskRef string, f SyncFailure) error
	// ReleaseSyncLock drops taskRef's lock without touching the error count,
	// for a task that never started.
	ReleaseSyncLock(ctx context.Context, id, taskRef string) error
	// ReleaseStaleLocks clears every lock taken at or before staleBefore and
	// returns the affected account IDs. The error count is left unchanged.
	ReleaseStaleLocks(ctx context.Context, staleBefore time.Time, reason string) ([]string, error)
}

// Messages persists fetched mail messages.
type Messages interface {
	// UpsertMessage inserts msg or returns the stored row for the same
	// (AccountID, ProviderMessageID). created is true only for a new row.
	UpsertMessage(ctx context.Context, msg api.MailMessage) (stored api.MailMessage, created bool, err error)
	GetMessage(ctx context.Context, id string) (api.MailMessage, error)
	// FindMessage looks a message up by its provider key.
	FindMessage(ctx context.Context, accountID, providerMessageID string) (api.MailMessage, error)
	UpdateMessageStatus(ctx context.Context, id string, status api.ProcessingStatus, confidence *float64) error
}

// SortKey orders approval listings.
type SortKey string

const (
	SortCreatedAt  SortKey = "created_at"
	SortConfidence SortKey = "confidence"
	SortStatus     SortKey = "status"
)

// Valid reports whether k is a supported sort key.
func (k SortKey) Valid() bool {
	switch k {
	case SortCreatedAt, SortConfidence, SortStatus:
		return true
	}
	return false
}

// ApprovalQuery filters and orders ListApprovals. Empty fields do not filter.
type ApprovalQuery struct {
	Owner  string
	Status api.ApprovalStatus
	SortBy SortKey
	Desc   bool
	Limit  int
	Offset int
}

// Approvals persists approvals.
type Approvals interface {
	// CreateApproval inserts a or returns the existing approval for a.MailMessageID.
	CreateApproval(ctx context.Context, a api.Approval) (api.Approval, error)
	GetApproval(ctx context.Context, id string) (api.Approval, error)
	// ClaimApproval reserves a PENDING approval for claimRef. A claim made
	// before staleBefore may be taken over. It returns ErrNotPending for a
	// resolved approval and ErrApprovalClaimed while a live claim exists.
	ClaimApproval(ctx context.Context, id, claimRef string, at, staleBefore time.Time) (api.Approval, error)
	// ReleaseApproval drops claimRef's claim and leaves the approval PENDING.
	ReleaseApproval(ctx context.Context, id, claimRef string) error
	// ResolveApproval moves a PENDING approval to status. claimRef must hold
	// the current claim; an empty claimRef resolves only an unclaimed approval.
	ResolveApproval(ctx context.Context, id, claimRef string, status api.ApprovalStatus, resolvedAt time.Time, expenseID string) (api.Approval, error)
	ListApprovals(ctx context.Context, q ApprovalQuery) ([]api.Approval, error)
}

// Store is the full persistence surface.
type Store interface {
	Accounts
	Messages
	Approvals
	Ping(ctx context.Context) error
	Close()
}
