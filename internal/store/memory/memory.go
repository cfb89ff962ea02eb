// Package memory is an in-process store used by tests and the offline CLI mode.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

var _ store.Store = (*Store)(nil)

// Store keeps every record in maps guarded by one mutex, so each method is
// atomic the same way a single SQL statement is.
type Store struct {
	mu sync.Mutex

	accounts  map[string]api.MailAccount
	messages  map[string]api.MailMessage
	msgByKey  map[string]string
	approvals map[string]api.Approval
	apprByMsg map[string]string
	claims    map[string]claim
}

type claim struct {
	ref string
	at  time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:  make(map[string]api.MailAccount),
		messages:  make(map[string]api.MailMessage),
		msgByKey:  make(map[string]string),
		approvals: make(map[string]api.Approval),
		apprByMsg: make(map[string]string),
		claims:    make(map[string]claim),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) CreateAccount(_ context.Context, acct api.MailAccount) (api.MailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if _, ok := s.accounts[acct.ID]; ok {
		return api.MailAccount{}, fmt.Errorf("account %s already exists", acct.ID)
	}
	if acct.Status == "" {
		acct.Status = api.AccountActive
	}
	now := time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now
	s.accounts[acct.ID] = acct
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (api.MailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return api.MailAccount{}, fmt.Errorf("account %s: %w", id, api.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) ListAccounts(_ context.Context, owner string) ([]api.MailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.MailAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		if owner == "" || a.Owner == owner {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b api.MailAccount) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) AcquireSyncLock(_ context.Context, id, taskRef string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return false, fmt.Errorf("account %s: %w", id, api.ErrNotFound)
	}
	if acct.Status != api.AccountActive {
		return false, nil
	}
	if acct.SyncInProgress && acct.SyncStartedAt != nil && acct.SyncStartedAt.After(staleBefore) {
		return false, nil
	}

	started := now
	acct.SyncInProgress = true
	acct.SyncTaskRef = taskRef
	acct.SyncStartedAt = &started
	acct.UpdatedAt = now
	s.accounts[id] = acct
	return true, nil
}

// owned returns the account when taskRef holds its lock. Callers hold s.mu.
func (s *Store) owned(id, taskRef string) (api.MailAccount, error) {
	acct, ok := s.accounts[id]
	if !ok {
		return api.MailAccount{}, fmt.Errorf("account %s: %w", id, api.ErrNotFound)
	}
	if !acct.SyncInProgress || acct.SyncTaskRef != taskRef {
		return api.MailAccount{}, fmt.Errorf("account %s task %s: %w", id, taskRef, store.ErrLockLost)
	}
	return acct, nil
}

func (s *Store) SaveSyncCursor(_ context.Context, id, taskRef, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.owned(id, taskRef)
	if err != nil {
		return err
	}
	acct.SyncCursor = cursor
	s.accounts[id] = acct
	return nil
}

func (s *Store) CompleteSync(_ context.Context, id, taskRef string, done store.SyncSuccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.owned(id, taskRef)
	if err != nil {
		return err
	}
	acct.SyncInProgress = false
	acct.SyncTaskRef = ""
	acct.SyncStartedAt = nil
	acct.SyncCursor = ""
	if !done.Partial {
		at := done.At
		acct.LastSuccessfulSyncAt = &at
	}
	acct.ConsecutiveErrorCount = 0
	acct.LastError = ""
	acct.UpdatedAt = done.At
	s.accounts[id] = acct
	return nil
}

func (s *Store) FailSync(_ context.Context, id, taskRef string, f store.SyncFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.owned(id, taskRef)
	if err != nil {
		return err
	}
	acct.SyncInProgress = false
	acct.SyncTaskRef = ""
	acct.SyncStartedAt = nil
	acct.ConsecutiveErrorCount++
	acct.LastError = f.Message
	if f.Deactivate {
		acct.Status = api.AccountInactive
	}
	acct.UpdatedAt = f.At
	s.accounts[id] = acct
	return nil
}

func (s *Store) ReleaseSyncLock(_ context.Context, id, taskRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.owned(id, taskRef)
	if err != nil {
		return err
	}
	acct.SyncInProgress = false
	acct.SyncTaskRef = ""
	acct.SyncStartedAt = nil
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[id] = acct
	return nil
}

func (s *Store) ReleaseStaleLocks(_ context.Context, staleBefore time.Time, reason string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []string
	for id, acct := range s.accounts {
		if !acct.SyncInProgress || acct.SyncStartedAt == nil || acct.SyncStartedAt.After(staleBefore) {
			continue
		}
		acct.SyncInProgress = false
		acct.SyncTaskRef = ""
		acct.SyncStartedAt = nil
		acct.LastError = reason
		acct.UpdatedAt = time.Now().UTC()
		s.accounts[id] = acct
		released = append(released, id)
	}
	slices.Sort(released)
	return released, nil
}

func messageKey(accountID, providerID string) string {
	return accountID + "\x00" + providerID
}

func (s *Store) UpsertMessage(_ context.Context, msg api.MailMessage) (api.MailMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := messageKey(msg.AccountID, msg.ProviderMessageID)
	if id, ok := s.msgByKey[key]; ok {
		return s.messages[id], false, nil
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ProcessingStatus == "" {
		msg.ProcessingStatus = api.MessagePending
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ID] = msg
	s.msgByKey[key] = msg.ID
	return msg, true, nil
}

func (s *Store) GetMessage(_ context.Context, id string) (api.MailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return api.MailMessage{}, fmt.Errorf("message %s: %w", id, api.ErrNotFound)
	}
	return msg, nil
}

func (s *Store) FindMessage(_ context.Context, accountID, providerMessageID string) (api.MailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.msgByKey[messageKey(accountID, providerMessageID)]
	if !ok {
		return api.MailMessage{}, fmt.Errorf("message %s/%s: %w", accountID, providerMessageID, api.ErrNotFound)
	}
	return s.messages[id], nil
}

func (s *Store) UpdateMessageStatus(_ context.Context, id string, status api.ProcessingStatus, confidence *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, api.ErrNotFound)
	}
	msg.ProcessingStatus = status
	if confidence != nil {
		c := *confidence
		msg.FinancialConfidence = &c
	}
	s.messages[id] = msg
	return nil
}

func (s *Store) CreateApproval(_ context.Context, a api.Approval) (api.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.apprByMsg[a.MailMessageID]; ok {
		return s.approvals[id], nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = api.ApprovalPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.approvals[a.ID] = a
	s.apprByMsg[a.MailMessageID] = a.ID
	return a, nil
}

func (s *Store) GetApproval(_ context.Context, id string) (api.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.approvals[id]
	if !ok {
		return api.Approval{}, fmt.Errorf("approval %s: %w", id, api.ErrNotFound)
	}
	return a, nil
}

// pending returns the approval when it is still PENDING. Callers hold s.mu.
func (s *Store) pending(id string) (api.Approval, error) {
	a, ok := s.approvals[id]
	if !ok {
		return api.Approval{}, fmt.Errorf("approval %s: %w", id, api.ErrNotFound)
	}
	if a.Status != api.ApprovalPending {
		return a, fmt.Errorf("approval %s is %s: %w", id, a.Status, store.ErrNotPending)
	}
	return a, nil
}

func (s *Store) ClaimApproval(_ context.Context, id, claimRef string, at, staleBefore time.Time) (api.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.pending(id)
	if err != nil {
		return a, err
	}
	if c, ok := s.claims[id]; ok && c.at.After(staleBefore) {
		return a, fmt.Errorf("approval %s: %w", id, store.ErrApprovalClaimed)
	}
	s.claims[id] = claim{ref: claimRef, at: at}
	return a, nil
}

func (s *Store) ReleaseApproval(_ context.Context, id, claimRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.claims[id]; ok && c.ref == claimRef {
		delete(s.claims, id)
	}
	return nil
}

func (s *Store) ResolveApproval(_ context.Context, id, claimRef string, status api.ApprovalStatus, resolvedAt time.Time, expenseID string) (api.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.pending(id)
	if err != nil {
		return a, err
	}
	if c, ok := s.claims[id]; ok != (claimRef != "") || c.ref != claimRef {
		return a, fmt.Errorf("approval %s: %w", id, store.ErrApprovalClaimed)
	}
	delete(s.claims, id)
	at := resolvedAt
	a.Status = status
	a.ResolvedAt = &at
	a.ExpenseID = expenseID
	s.approvals[id] = a
	return a, nil
}

func (s *Store) ListApprovals(_ context.Context, q store.ApprovalQuery) ([]api.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.Approval, 0, len(s.approvals))
	for _, a := range s.approvals {
		if q.Owner != "" && a.Owner != q.Owner {
			continue
		}
		if q.Status != "" && a.Status != q.Status {
			continue
		}
		out = append(out, a)
	}

	cmp := compareApprovals(q.SortBy)
	slices.SortStableFunc(out, func(a, b api.Approval) int {
		c := cmp(a, b)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if q.Desc {
			return -c
		}
		return c
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []api.Approval{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func compareApprovals(key store.SortKey) func(a, b api.Approval) int {
	switch key {
	case store.SortConfidence:
		return func(a, b api.Approval) int {
			switch {
			case a.ConfidenceScore < b.ConfidenceScore:
				return -1
			case a.ConfidenceScore > b.ConfidenceScore:
				return 1
			}
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	case store.SortStatus:
		return func(a, b api.Approval) int {
			if c := strings.Compare(string(a.Status), string(b.Status)); c != 0 {
				return c
			}
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	default:
		return func(a, b api.Approval) int { return a.CreatedAt.Compare(b.CreatedAt) }
	}
}
