// Package syncer coordinates mailbox syncs: it owns the per-account sync lock,
// runs the classify and extract pipeline over fetched messages, and releases
// locks left behind by crashed workers.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/metrics"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/queue"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/seen"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/classifier"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/extractor"
)

// Defaults for Options.
const (
	DefaultStuckTimeout = 30 * time.Minute
	DefaultBatchSize    = 50
	DefaultMaxMessages  = 200
)

// TriggerStatus is the outcome of a trigger request.
type TriggerStatus string

const (
	StatusQueued    TriggerStatus = "queued"
	StatusRejected  TriggerStatus = "rejected"
	StatusCompleted TriggerStatus = "completed"
)

// Counts summarizes one sync run.
type Counts struct {
	Fetched   int `json:"fetched"`
	New       int `json:"new"`
	Financial int `json:"financial"`
	Approvals int `json:"approvals"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// TriggerResult is returned by TriggerSync and SyncNow.
type TriggerResult struct {
	Status  TriggerStatus `json:"status"`
	TaskRef string        `json:"task_ref,omitempty"`
	Counts  *Counts       `json:"counts,omitempty"`
}

// Options tunes a Coordinator.
type Options struct {
	// StuckTimeout is how long a lock is honored before it counts as stale.
	StuckTimeout time.Duration
	// BatchSize is the page size requested from the mailbox.
	BatchSize int
	// MaxMessages caps how many new messages one run fetches bodies for.
	MaxMessages int
}

func (o Options) withDefaults() Options {
	if o.StuckTimeout <= 0 {
		o.StuckTimeout = DefaultStuckTimeout
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	return o
}

// Deps are the collaborators a Coordinator works with.
type Deps struct {
	Store store.Store
	// Mailboxes maps MailAccount.Provider to its connector.
	Mailboxes  map[string]api.Mailbox
	Classifier *classifier.Classifier
	Extractor  *extractor.Extractor
	// Seen is optional; nil disables the cache.
	Seen seen.Cache
	// Dispatcher is required for TriggerSync only.
	Dispatcher queue.Dispatcher
	Logger     *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator is the sync coordinator. It is safe for concurrent use; the
// store's conditional lock serializes syncs of the same account.
type Coordinator struct {
	store      store.Store
	mailboxes  map[string]api.Mailbox
	classifier *classifier.Classifier
	extractor  *extractor.Extractor
	seen       seen.Cache
	dispatcher queue.Dispatcher
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// New returns a Coordinator.
func New(deps Deps, opts Options) (*Coordinator, error) {
	if deps.Store == nil {
		return nil, errors.New("syncer: store is required")
	}
	if deps.Classifier == nil || deps.Extractor == nil {
		return nil, errors.New("syncer: classifier and extractor are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Seen == nil {
		deps.Seen = seen.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Coordinator{
		store:      deps.Store,
		mailboxes:  deps.Mailboxes,
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		seen:       deps.Seen,
		dispatcher: deps.Dispatcher,
		opts:       opts.withDefaults(),
		logger:     deps.Logger.With("component", "syncer"),
		now:        func() time.Time { return deps.Now().UTC() },
	}, nil
}

// acquire takes the account's sync lock for taskRef. It returns
// ErrAccountInactive or ErrAlreadySyncing when the lock is not available.
func (c *Coordinator) acquire(ctx context.Context, accountID, taskRef string) (api.MailAccount, error) {
	acct, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return api.MailAccount{}, err
	}
	if acct.Status != api.AccountActive {
		metrics.SyncTriggers.WithLabelValues("inactive").Inc()
		return acct, fmt.Errorf("account %s: %w", accountID, api.ErrAccountInactive)
	}

	now := c.now()
	ok, err := c.store.AcquireSyncLock(ctx, accountID, taskRef, now, now.Add(-c.opts.StuckTimeout))
	if err != nil {
		return acct, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !ok {
		metrics.SyncTriggers.WithLabelValues("rejected").Inc()
		c.logger.Info("sync rejected, lock held",
			"account_id", accountID,
			"held_by", acct.SyncTaskRef,
		)
		return acct, fmt.Errorf("account %s: %w", accountID, api.ErrAlreadySyncing)
	}

	if acct.SyncInProgress {
		c.logger.Warn("took over stale sync lock",
			"account_id", accountID,
			"stale_task_ref", acct.SyncTaskRef,
			"stale_started_at", acct.SyncStartedAt,
		)
	}
	return acct, nil
}

// TriggerSync takes the account's lock and queues a sync task. It never
// waits for the sync itself. A live lock yields StatusRejected together with
// api.ErrAlreadySyncing and no task is queued. A full queue also yields
// StatusRejected, with queue.ErrQueueFull, and the lock is released.
func (c *Coordinator) TriggerSync(ctx context.Context, accountID string) (TriggerResult, error) {
	if c.dispatcher == nil {
		return TriggerResult{}, errors.New("syncer: no task dispatcher configured")
	}

	taskRef := uuid.NewString()
	if _, err := c.acquire(ctx, accountID, taskRef); err != nil {
		if errors.Is(err, api.ErrAlreadySyncing) || errors.Is(err, api.ErrAccountInactive) {
			return TriggerResult{Status: StatusRejected}, err
		}
		return TriggerResult{}, err
	}

	task := queue.Task{AccountID: accountID, TaskRef: taskRef, EnqueuedAt: c.now()}
	if err := c.dispatcher.Dispatch(ctx, task); err != nil {
		// The sync never ran, so the account's error count is left alone.
		if rerr := c.store.ReleaseSyncLock(context.WithoutCancel(ctx), accountID, taskRef); rerr != nil {
			c.logger.Error("releasing lock after dispatch failure", "account_id", accountID, "error", rerr)
		}
		if errors.Is(err, queue.ErrQueueFull) {
			metrics.SyncTriggers.WithLabelValues("rejected").Inc()
			c.logger.Warn("sync rejected, task queue full", "account_id", accountID)
			return TriggerResult{Status: StatusRejected}, fmt.Errorf("account %s: %w", accountID, err)
		}
		return TriggerResult{}, fmt.Errorf("dispatching sync task: %w", err)
	}

	metrics.SyncTriggers.WithLabelValues("queued").Inc()
	c.logger.Info("sync queued", "account_id", accountID, "task_ref", taskRef)
	return TriggerResult{Status: StatusQueued, TaskRef: taskRef}, nil
}

// SyncNow takes the lock and runs the sync on the calling goroutine.
// It is used by the CLI when no worker is running.
func (c *Coordinator) SyncNow(ctx context.Context, accountID string) (TriggerResult, error) {
	taskRef := uuid.NewString()
	acct, err := c.acquire(ctx, accountID, taskRef)
	if err != nil {
		if errors.Is(err, api.ErrAlreadySyncing) || errors.Is(err, api.ErrAccountInactive) {
			return TriggerResult{Status: StatusRejected}, err
		}
		return TriggerResult{}, err
	}
	metrics.SyncTriggers.WithLabelValues("inline").Inc()

	counts, err := c.run(ctx, acct, taskRef)
	return TriggerResult{Status: StatusCompleted, TaskRef: taskRef, Counts: &counts}, err
}

// RunSync executes a queued task. Tasks whose lock has since moved to another
// task, for example after a watchdog release and re-trigger, are dropped.
func (c *Coordinator) RunSync(ctx context.Context, t queue.Task) error {
	acct, err := c.store.GetAccount(ctx, t.AccountID)
	if err != nil {
		return fmt.Errorf("loading account for task %s: %w", t.TaskRef, err)
	}
	if !acct.SyncInProgress || acct.SyncTaskRef != t.TaskRef {
		c.logger.Warn("dropping task that no longer holds the lock",
			"account_id", t.AccountID,
			"task_ref", t.TaskRef,
			"current_task_ref", acct.SyncTaskRef,
		)
		metrics.ObserveSync("lock_lost", 0)
		return nil
	}

	c.logger.Info("sync task picked up",
		"account_id", t.AccountID,
		"task_ref", t.TaskRef,
		"queued_for", c.now().Sub(t.EnqueuedAt),
	)
	_, err = c.run(ctx, acct, t.TaskRef)
	return err
}

// GetSyncStatus returns the account with its sync fields.
func (c *Coordinator) GetSyncStatus(ctx context.Context, accountID string) (api.MailAccount, error) {
	return c.store.GetAccount(ctx, accountID)
}

// ListAccounts lists an owner's accounts, or every account when owner is empty.
func (c *Coordinator) ListAccounts(ctx context.Context, owner string) ([]api.MailAccount, error) {
	return c.store.ListAccounts(ctx, owner)
}

// CleanupStuckSyncs releases every lock older than the stuck timeout and
// returns how many were released. It is safe to call at any time.
func (c *Coordinator) CleanupStuckSyncs(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.opts.StuckTimeout)
	reason := fmt.Sprintf("sync lock released after %s stuck timeout", c.opts.StuckTimeout)

	released, err := c.store.ReleaseStaleLocks(ctx, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("releasing stale locks: %w", err)
	}
	for _, id := range released {
		c.logger.Warn("released stuck sync lock", "account_id", id, "stale_before", cutoff)
	}
	metrics.StuckLocksReleased.Add(float64(len(released)))
	return len(released), nil
}
