// Package storetest holds behaviour checks shared by every store implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises s against the store.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("SyncLock", func(t *testing.T) { testSyncLock(t, newStore(t)) })
	t.Run("SyncLockConcurrent", func(t *testing.T) { testSyncLockConcurrent(t, newStore(t)) })
	t.Run("ReleaseSyncLock", func(t *testing.T) { testReleaseSyncLock(t, newStore(t)) })
	t.Run("SyncOutcome", func(t *testing.T) { testSyncOutcome(t, newStore(t)) })
	t.Run("ReleaseStaleLocks", func(t *testing.T) { testReleaseStale(t, newStore(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("Approvals", func(t *testing.T) { testApprovals(t, newStore(t)) })
	t.Run("ApprovalClaims", func(t *testing.T) { testApprovalClaims(t, newStore(t)) })
	t.Run("ListApprovals", func(t *testing.T) { testListApprovals(t, newStore(t)) })
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newAccount(t *testing.T, s store.Store, owner string) api.MailAccount {
	t.Helper()
	acct, err := s.CreateAccount(context.Background(), api.MailAccount{
		Owner:         owner,
		Address:       owner + "@example.com",
		Provider:      "gmail",
		CredentialRef: owner,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return acct
}

func testSyncLock(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := newAccount(t, s, "alice")
	timeout := 30 * time.Minute

	ok, err := s.AcquireSyncLock(ctx, acct.ID, "t1", base, base.Add(-timeout))
	if err != nil || !ok {
		t.Fatalf("first acquire: got %v, %v, want true", ok, err)
	}

	// Ten minutes later the lock is live.
	now := base.Add(10 * time.Minute)
	ok, err = s.AcquireSyncLock(ctx, acct.ID, "t2", now, now.Add(-timeout))
	if err != nil || ok {
		t.Fatalf("acquire while live: got %v, %v, want false", ok, err)
	}

	// Forty minutes later it is stale and can be taken over.
	now = base.Add(40 * time.Minute)
	ok, err = s.AcquireSyncLock(ctx, acct.ID, "t3", now, now.Add(-timeout))
	if err != nil || !ok {
		t.Fatalf("acquire stale: got %v, %v, want true", ok, err)
	}

	got, err := s.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.SyncInProgress || got.SyncTaskRef != "t3" || got.SyncStartedAt == nil || !got.SyncStartedAt.Equal(now) {
		t.Errorf("lock fields: got in_progress=%v ref=%q started=%v", got.SyncInProgress, got.SyncTaskRef, got.SyncStartedAt)
	}

	// The displaced task can no longer finish.
	if err := s.CompleteSync(ctx, acct.ID, "t1", store.SyncSuccess{At: now}); !errors.Is(err, store.ErrLockLost) {
		t.Errorf("complete with stale ref: got %v, want ErrLockLost", err)
	}
	if err := s.SaveSyncCursor(ctx, acct.ID, "t1", "c"); !errors.Is(err, store.ErrLockLost) {
		t.Errorf("save cursor with stale ref: got %v, want ErrLockLost", err)
	}

	if _, err := s.AcquireSyncLock(ctx, "missing", "t", now, now); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("acquire missing: got %v, want ErrNotFound", err)
	}
}

func testSyncLockConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := newAccount(t, s, "alice")
	const workers = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := range workers {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			ok, err := s.AcquireSyncLock(ctx, acct.ID, ref, base, base.Add(-30*time.Minute))
			if err != nil {
				t.Errorf("acquire %s: %v", ref, err)
				return
			}
			if ok {
				mu.Lock()
				winners = append(winners, ref)
				mu.Unlock()
			}
		}(fmt.Sprintf("task-%d", i))
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("lock winners: got %v, want exactly one", winners)
	}
	got, err := s.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncTaskRef != winners[0] {
		t.Errorf("lock holder: got %q, want %q", got.SyncTaskRef, winners[0])
	}
}

func testReleaseSyncLock(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := newAccount(t, s, "erin")
	stale := base.Add(-time.Hour)

	if ok, err := s.AcquireSyncLock(ctx, acct.ID, "t1", base, stale); err != nil || !ok {
		t.Fatalf("acquire: got %v, %v", ok, err)
	}
	if err := s.ReleaseSyncLock(ctx, acct.ID, "other"); !errors.Is(err, store.ErrLockLost) {
		t.Errorf("release with wrong ref: got %v, want ErrLockLost", err)
	}
	if err := s.ReleaseSyncLock(ctx, acct.ID, "t1"); err != nil {
		t.Fatalf("ReleaseSyncLock: %v", err)
	}

	got, _ := s.GetAccount(ctx, acct.ID)
	if got.SyncInProgress || got.SyncTaskRef != "" || got.ConsecutiveErrorCount != 0 || got.LastError != "" {
		t.Errorf("after release: got in_progress=%v ref=%q count=%d err=%q",
			got.SyncInProgress, got.SyncTaskRef, got.ConsecutiveErrorCount, got.LastError)
	}
	if ok, err := s.AcquireSyncLock(ctx, acct.ID, "t2", base, stale); err != nil || !ok {
		t.Errorf("acquire after release: got %v, %v, want true", ok, err)
	}
}

func testSyncOutcome(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := newAccount(t, s, "bob")
	stale := base.Add(-time.Hour)

	for i, msg := range []string{"timeout", "timeout again"} {
		ref := "f" + string(rune('0'+i))
		if ok, err := s.AcquireSyncLock(ctx, acct.ID, ref, base, stale); err != nil || !ok {
			t.Fatalf("acquire %d: got %v, %v", i, ok, err)
		}
		if err := s.FailSync(ctx, acct.ID, ref, store.SyncFailure{Message: msg, At: base}); err != nil {
			t.Fatalf("FailSync: %v", err)
		}
	}
	got, _ := s.GetAccount(ctx, acct.ID)
	if got.ConsecutiveErrorCount != 2 || got.LastError != "timeout again" || got.SyncInProgress {
		t.Errorf("after failures: got count=%d err=%q in_progress=%v", got.ConsecutiveErrorCount, got.LastError, got.SyncInProgress)
	}

	if ok, err := s.AcquireSyncLock(ctx, acct.ID, "ok", base, stale); err != nil || !ok {
		t.Fatalf("acquire: got %v, %v", ok, err)
	}
	if err := s.SaveSyncCursor(ctx, acct.ID, "ok", "page-2"); err != nil {
		t.Fatalf("SaveSyncCursor: %v", err)
	}
	got, _ = s.GetAccount(ctx, acct.ID)
	if got.SyncCursor != "page-2" {
		t.Errorf("cursor: got %q, want page-2", got.SyncCursor)
	}
	done := base.Add(time.Minute)
	if err := s.CompleteSync(ctx, acct.ID, "ok", store.SyncSuccess{At: done}); err != nil {
		t.Fatalf("CompleteSync: %v", err)
	}
	got, _ = s.GetAccount(ctx, acct.ID)
	if got.ConsecutiveErrorCount != 0 || got.LastError != "" || got.SyncInProgress || got.SyncTaskRef != "" || got.SyncCursor != "" {
		t.Errorf("after success: got %+v", got)
	}
	if got.LastSuccessfulSyncAt == nil || !got.LastSuccessfulSyncAt.Equal(done) {
		t.Errorf("last_successful_sync_at: got %v, want %v", got.LastSuccessfulSyncAt, done)
	}

	// A partial run keeps the previous baseline.
	if ok, err := s.AcquireSyncLock(ctx, acct.ID, "partial", base, stale); err != nil || !ok {
		t.Fatalf("acquire: got %v, %v", ok, err)
	}
	if err := s.CompleteSync(ctx, acct.ID, "partial", store.SyncSuccess{At: done.Add(time.Hour), Partial: true}); err != nil {
		t.Fatalf("CompleteSync partial: %v", err)
	}
	got, _ = s.GetAccount(ctx, acct.ID)
	if got.SyncInProgress || got.LastSuccessfulSyncAt == nil || !got.LastSuccessfulSyncAt.Equal(done) {
		t.Errorf("after partial: got in_progress=%v last=%v, want %v", got.SyncInProgress, got.LastSuccessfulSyncAt, done)
	}

	if ok, err := s.AcquireSyncLock(ctx, acct.ID, "auth", base, stale); err != nil || !ok {
		t.Fatalf("acquire: got %v, %v", ok, err)
	}
	if err := s.FailSync(ctx, acct.ID, "auth", store.SyncFailure{Message: "token revoked", Deactivate: true, At: base}); err != nil {
		t.Fatalf("FailSync: %v", err)
	}
	got, _ = s.GetAccount(ctx, acct.ID)
	if got.Status != api.AccountInactive {
		t.Errorf("status: got %s, want INACTIVE", got.Status)
	}
	if ok, err := s.AcquireSyncLock(ctx, acct.ID, "again", base, stale); err != nil || ok {
		t.Errorf("acquire inactive: got %v, %v, want false", ok, err)
	}
}

func testReleaseStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := newAccount(t, s, "old")
	fresh := newAccount(t, s, "fresh")
	idle := newAccount(t, s, "idle")
	_ = idle

	if ok, _ := s.AcquireSyncLock(ctx, old.ID, "o", base.Add(-2*time.Hour), base.Add(-3*time.Hour)); !ok {
		t.Fatal("acquire old")
	}
	if ok, _ := s.AcquireSyncLock(ctx, fresh.ID, "f", base.Add(-5*time.Minute), base.Add(-time.Hour)); !ok {
		t.Fatal("acquire fresh")
	}

	released, err := s.ReleaseStaleLocks(ctx, base.Add(-30*time.Minute), "sync lock released after stuck timeout")
	if err != nil {
		t.Fatalf("ReleaseStaleLocks: %v", err)
	}
	if len(released) != 1 || released[0] != old.ID {
		t.Fatalf("released: got %v, want [%s]", released, old.ID)
	}

	got, _ := s.GetAccount(ctx, old.ID)
	if got.SyncInProgress || got.SyncTaskRef != "" || got.SyncStartedAt != nil {
		t.Errorf("old lock: got %+v", got)
	}
	if got.LastError != "sync lock released after stuck timeout" || got.ConsecutiveErrorCount != 0 {
		t.Errorf("old error: got %q count=%d", got.LastError, got.ConsecutiveErrorCount)
	}
	if got, _ := s.GetAccount(ctx, fresh.ID); !got.SyncInProgress {
		t.Error("fresh lock was released")
	}
}

func testMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := newAccount(t, s, "carol")

	msg := api.MailMessage{
		AccountID:         acct.ID,
		ProviderMessageID: "p1",
		Subject:           "Debit alert",
		Sender:            "alerts@nabilbank.com",
		ReceivedAt:        base,
		ProcessingStatus:  api.MessageProcessing,
	}
	first, created, err := s.UpsertMessage(ctx, msg)
	if err != nil || !created {
		t.Fatalf("first upsert: got created=%v err=%v", created, err)
	}
	msg.Subject = "changed"
	second, created, err := s.UpsertMessage(ctx, msg)
	if err != nil || created {
		t.Fatalf("second upsert: got created=%v err=%v", created, err)
	}
	if second.ID != first.ID || second.Subject != "Debit alert" {
		t.Errorf("second upsert: got id=%s subject=%q, want %s and original subject", second.ID, second.Subject, first.ID)
	}

	found, err := s.FindMessage(ctx, acct.ID, "p1")
	if err != nil || found.ID != first.ID {
		t.Errorf("FindMessage: got %v, %v, want %s", found.ID, err, first.ID)
	}
	if _, err := s.FindMessage(ctx, acct.ID, "p2"); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("FindMessage missing: got %v, want ErrNotFound", err)
	}

	conf := 0.82
	if err := s.UpdateMessageStatus(ctx, first.ID, api.MessageProcessed, &conf); err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}
	got, err := s.GetMessage(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcessingStatus != api.MessageProcessed || got.FinancialConfidence == nil || *got.FinancialConfidence != conf {
		t.Errorf("status: got %s conf=%v", got.ProcessingStatus, got.FinancialConfidence)
	}
	if err := s.UpdateMessageStatus(ctx, "missing", api.MessageSkipped, nil); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("update missing: got %v, want ErrNotFound", err)
	}
}

func newMessage(t *testing.T, s store.Store, accountID, providerID string) api.MailMessage {
	t.Helper()
	msg, _, err := s.UpsertMessage(context.Background(), api.MailMessage{
		AccountID:         accountID,
		ProviderMessageID: providerID,
		ReceivedAt:        base,
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	return msg
}

func testApprovals(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := newAccount(t, s, "dave")
	msg := newMessage(t, s, acct.ID, "p1")

	a := api.Approval{
		MailMessageID:   msg.ID,
		Owner:           acct.Owner,
		ConfidenceScore: 0.9,
		ExtractedData: api.ExtractedData{
			Amounts:        []string{"2000.00"},
			Dates:          []string{"2024-01-15"},
			Merchants:      []string{"Bhatbhateni Supermarket"},
			TransactionIDs: []string{},
			Currency:       "NPR",
		},
		SuggestedCategory: api.CategoryFood,
		CreatedAt:         base,
	}
	first, err := s.CreateApproval(ctx, a)
	if err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}
	if first.Status != api.ApprovalPending {
		t.Errorf("status: got %s, want PENDING", first.Status)
	}
	a.ConfidenceScore = 0.1
	second, err := s.CreateApproval(ctx, a)
	if err != nil {
		t.Fatalf("CreateApproval again: %v", err)
	}
	if second.ID != first.ID || second.ConfidenceScore != 0.9 {
		t.Errorf("duplicate approval: got %+v", second)
	}

	got, err := s.GetApproval(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ExtractedData.Merchants) != 1 || got.ExtractedData.Merchants[0] != "Bhatbhateni Supermarket" || got.SuggestedCategory != api.CategoryFood {
		t.Errorf("stored approval: got %+v", got)
	}

	resolved, err := s.ResolveApproval(ctx, first.ID, "", api.ApprovalApproved, base.Add(time.Hour), "exp-1")
	if err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	if resolved.Status != api.ApprovalApproved || resolved.ExpenseID != "exp-1" || resolved.ResolvedAt == nil {
		t.Errorf("resolved: got %+v", resolved)
	}
	if _, err := s.ResolveApproval(ctx, first.ID, "", api.ApprovalRejected, base, ""); !errors.Is(err, store.ErrNotPending) {
		t.Errorf("second resolve: got %v, want ErrNotPending", err)
	}
	if _, err := s.GetApproval(ctx, "missing"); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("get missing: got %v, want ErrNotFound", err)
	}
}

func testApprovalClaims(t *testing.T, s store.Store) {
	ctx := context.Background()
	acct := newAccount(t, s, "frank")
	a, err := s.CreateApproval(ctx, api.Approval{
		MailMessageID:   newMessage(t, s, acct.ID, "c1").ID,
		Owner:           acct.Owner,
		ConfidenceScore: 0.8,
		CreatedAt:       base,
	})
	if err != nil {
		t.Fatal(err)
	}
	stale := base.Add(-5 * time.Minute)

	if _, err := s.ClaimApproval(ctx, a.ID, "c1", base, stale); err != nil {
		t.Fatalf("ClaimApproval: %v", err)
	}
	if _, err := s.ClaimApproval(ctx, a.ID, "c2", base.Add(time.Minute), stale.Add(time.Minute)); !errors.Is(err, store.ErrApprovalClaimed) {
		t.Errorf("second claim: got %v, want ErrApprovalClaimed", err)
	}
	if _, err := s.ResolveApproval(ctx, a.ID, "", api.ApprovalRejected, base, ""); !errors.Is(err, store.ErrApprovalClaimed) {
		t.Errorf("unclaimed resolve of claimed approval: got %v, want ErrApprovalClaimed", err)
	}

	// Releasing leaves it PENDING and resolvable by anyone.
	if err := s.ReleaseApproval(ctx, a.ID, "c1"); err != nil {
		t.Fatalf("ReleaseApproval: %v", err)
	}
	if got, _ := s.GetApproval(ctx, a.ID); got.Status != api.ApprovalPending {
		t.Errorf("after release: got %s, want PENDING", got.Status)
	}

	// A claim older than staleBefore is taken over and the old holder loses it.
	if _, err := s.ClaimApproval(ctx, a.ID, "c3", base, stale); err != nil {
		t.Fatal(err)
	}
	later := base.Add(10 * time.Minute)
	if _, err := s.ClaimApproval(ctx, a.ID, "c4", later, later.Add(-5*time.Minute)); err != nil {
		t.Fatalf("take over stale claim: %v", err)
	}
	if _, err := s.ResolveApproval(ctx, a.ID, "c3", api.ApprovalApproved, later, "exp-3"); !errors.Is(err, store.ErrApprovalClaimed) {
		t.Errorf("resolve with displaced claim: got %v, want ErrApprovalClaimed", err)
	}
	resolved, err := s.ResolveApproval(ctx, a.ID, "c4", api.ApprovalApproved, later, "exp-4")
	if err != nil {
		t.Fatalf("resolve with claim: %v", err)
	}
	if resolved.Status != api.ApprovalApproved || resolved.ExpenseID != "exp-4" {
		t.Errorf("resolved: got %+v", resolved)
	}
	if _, err := s.ClaimApproval(ctx, a.ID, "c5", later, later); !errors.Is(err, store.ErrNotPending) {
		t.Errorf("claim resolved approval: got %v, want ErrNotPending", err)
	}
	if _, err := s.ClaimApproval(ctx, "missing", "c6", later, later); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("claim missing: got %v, want ErrNotFound", err)
	}
}

func testListApprovals(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := newAccount(t, s, "alice")
	bob := newAccount(t, s, "bob")

	create := func(owner, accountID, providerID string, conf float64, offset time.Duration) api.Approval {
		msg := newMessage(t, s, accountID, providerID)
		a, err := s.CreateApproval(ctx, api.Approval{
			MailMessageID:   msg.ID,
			Owner:           owner,
			ConfidenceScore: conf,
			CreatedAt:       base.Add(offset),
		})
		if err != nil {
			t.Fatal(err)
		}
		return a
	}
	a1 := create("alice", alice.ID, "m1", 0.6, 0)
	a2 := create("alice", alice.ID, "m2", 0.9, time.Minute)
	a3 := create("alice", alice.ID, "m3", 0.7, 2*time.Minute)
	create("bob", bob.ID, "m4", 0.95, 3*time.Minute)

	if _, err := s.ResolveApproval(ctx, a3.ID, "", api.ApprovalRejected, base, ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		q    store.ApprovalQuery
		want []string
	}{
		{"owner by created", store.ApprovalQuery{Owner: "alice", SortBy: store.SortCreatedAt}, []string{a1.ID, a2.ID, a3.ID}},
		{"owner newest first", store.ApprovalQuery{Owner: "alice", SortBy: store.SortCreatedAt, Desc: true}, []string{a3.ID, a2.ID, a1.ID}},
		{"pending by confidence desc", store.ApprovalQuery{Owner: "alice", Status: api.ApprovalPending, SortBy: store.SortConfidence, Desc: true}, []string{a2.ID, a1.ID}},
		{"by status", store.ApprovalQuery{Owner: "alice", SortBy: store.SortStatus}, []string{a1.ID, a2.ID, a3.ID}},
		{"paged", store.ApprovalQuery{Owner: "alice", SortBy: store.SortCreatedAt, Limit: 1, Offset: 1}, []string{a2.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListApprovals(ctx, tt.q)
			if err != nil {
				t.Fatalf("ListApprovals: %v", err)
			}
			ids := make([]string, len(got))
			for i, a := range got {
				ids[i] = a.ID
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids: got %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids: got %v, want %v", ids, tt.want)
					break
				}
			}
		})
	}
}
