package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/approval"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/metrics"
	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/classifier"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/extractor"
)

// errCapReached stops the page loop once MaxMessages new messages were handled.
var errCapReached = errors.New("per-run message cap reached")

// run syncs acct under the lock held by taskRef and always releases the lock.
func (c *Coordinator) run(ctx context.Context, acct api.MailAccount, taskRef string) (Counts, error) {
	start := c.now()
	logger := c.logger.With("account_id", acct.ID, "task_ref", taskRef)
	logger.Info("sync started", "provider", acct.Provider, "resume_cursor", acct.SyncCursor != "")

	var counts Counts
	partial, err := c.fetchAll(ctx, acct, taskRef, &counts)
	return counts, c.finish(ctx, acct, taskRef, start, counts, partial, err)
}

func (c *Coordinator) fetchAll(ctx context.Context, acct api.MailAccount, taskRef string, counts *Counts) (partial bool, err error) {
	mb, ok := c.mailboxes[acct.Provider]
	if !ok {
		return false, fmt.Errorf("no mailbox connector for provider %q", acct.Provider)
	}

	opts := api.FetchOptions{MaxResults: c.opts.BatchSize, Cursor: acct.SyncCursor}
	if acct.LastSuccessfulSyncAt != nil {
		opts.Since = *acct.LastSuccessfulSyncAt
	}

	for {
		page, err := mb.Fetch(ctx, acct.CredentialRef, opts)
		if err != nil {
			return false, fmt.Errorf("listing messages: %w", err)
		}

		for _, summary := range page.Messages {
			counts.Fetched++
			err := c.process(ctx, acct, mb, summary.ID, counts)
			if errors.Is(err, errCapReached) {
				c.logger.Info("message cap reached, ending run early",
					"account_id", acct.ID,
					"max_messages", c.opts.MaxMessages,
				)
				return true, nil
			}
			if err != nil {
				return false, err
			}
		}

		if page.NextCursor == "" {
			return false, nil
		}
		opts.Cursor = page.NextCursor
		if err := c.store.SaveSyncCursor(ctx, acct.ID, taskRef, page.NextCursor); err != nil {
			return false, fmt.Errorf("saving sync cursor: %w", err)
		}
	}
}

// process handles one provider message. It returns an error only when the
// whole run has to stop; per-message problems are counted and logged.
func (c *Coordinator) process(ctx context.Context, acct api.MailAccount, mb api.Mailbox, providerID string, counts *Counts) error {
	if c.seen.Seen(ctx, acct.ID, providerID) {
		return nil
	}

	existing, err := c.store.FindMessage(ctx, acct.ID, providerID)
	switch {
	case err == nil && existing.ProcessingStatus.Done():
		c.seen.Mark(ctx, acct.ID, providerID)
		return nil
	case err != nil && !errors.Is(err, api.ErrNotFound):
		return fmt.Errorf("looking up message %s: %w", providerID, err)
	}

	if counts.New >= c.opts.MaxMessages {
		return errCapReached
	}

	body, err := mb.FetchBody(ctx, acct.CredentialRef, providerID)
	if err != nil {
		if api.IsAuth(err) || api.IsTransient(err) || ctx.Err() != nil {
			return fmt.Errorf("fetching message %s: %w", providerID, err)
		}
		counts.Errors++
		metrics.MessagesProcessed.WithLabelValues("error").Inc()
		c.logger.Error("skipping unreadable message", "account_id", acct.ID, "message_id", providerID, "error", err)
		return nil
	}

	msg, created, err := c.store.UpsertMessage(ctx, api.MailMessage{
		AccountID:         acct.ID,
		ProviderMessageID: providerID,
		Subject:           body.Subject,
		Sender:            body.Sender,
		ReceivedAt:        body.ReceivedAt,
		BodyText:          body.BodyText,
		BodyHTML:          body.BodyHTML,
		ProcessingStatus:  api.MessageProcessing,
		HasAttachments:    body.HasAttachments,
		CreatedAt:         c.now(),
	})
	if err != nil {
		return fmt.Errorf("storing message %s: %w", providerID, err)
	}
	if created {
		counts.New++
	}

	text := body.BodyText
	if strings.TrimSpace(text) == "" {
		text = extractor.PlainText(body.BodyHTML)
	}

	res := c.classifier.Classify(classifier.Input{
		Sender:  body.Sender,
		Subject: body.Subject,
		Body:    text,
		Headers: body.Headers,
	})
	metrics.ClassifierConfidence.Observe(res.Confidence)
	confidence := res.Confidence

	if !res.IsFinancial {
		if err := c.store.UpdateMessageStatus(ctx, msg.ID, api.MessageSkipped, &confidence); err != nil {
			return fmt.Errorf("marking message %s skipped: %w", providerID, err)
		}
		counts.Skipped++
		metrics.MessagesProcessed.WithLabelValues("skipped").Inc()
		c.seen.Mark(ctx, acct.ID, providerID)
		c.logger.Debug("message not financial",
			"account_id", acct.ID,
			"message_id", providerID,
			"confidence", confidence,
			"vetoed", res.Vetoed,
		)
		return nil
	}
	counts.Financial++

	data := c.extractor.Extract(extractor.Input{
		Subject:    body.Subject,
		Body:       text,
		Sender:     body.Sender,
		ReceivedAt: body.ReceivedAt,
	})
	data.Source = api.ExtractionSource{
		Provider:      acct.Provider,
		Sender:        body.Sender,
		Subject:       body.Subject,
		Signals:       res.Matched,
		SignalVersion: c.classifier.Version(),
	}

	a, err := c.store.CreateApproval(ctx, api.Approval{
		MailMessageID:     msg.ID,
		Owner:             acct.Owner,
		ExtractedData:     data,
		ConfidenceScore:   extractor.CombinedConfidence(res.Confidence, data),
		Status:            api.ApprovalPending,
		SuggestedCategory: approval.SuggestCategory(data),
		CreatedAt:         c.now(),
	})
	if err != nil {
		return fmt.Errorf("creating approval for message %s: %w", providerID, err)
	}
	counts.Approvals++

	if err := c.store.UpdateMessageStatus(ctx, msg.ID, api.MessageProcessed, &confidence); err != nil {
		return fmt.Errorf("marking message %s processed: %w", providerID, err)
	}
	metrics.MessagesProcessed.WithLabelValues("processed").Inc()
	c.seen.Mark(ctx, acct.ID, providerID)

	c.logger.Info("approval created",
		"account_id", acct.ID,
		"message_id", providerID,
		"approval_id", a.ID,
		"confidence", a.ConfidenceScore,
		"amounts", len(data.Amounts),
		"merchants", len(data.Merchants),
	)
	return nil
}

// finish records the outcome on the account and releases the lock. Store
// writes use a context detached from cancellation so a shutdown still
// releases the lock.
func (c *Coordinator) finish(ctx context.Context, acct api.MailAccount, taskRef string, start time.Time, counts Counts, partial bool, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	elapsed := c.now().Sub(start)

	attrs := []any{
		"account_id", acct.ID,
		"task_ref", taskRef,
		"duration", elapsed,
		"fetched", counts.Fetched,
		"new", counts.New,
		"financial", counts.Financial,
		"approvals", counts.Approvals,
		"skipped", counts.Skipped,
		"errors", counts.Errors,
	}

	var err error
	if runErr == nil {
		err = c.store.CompleteSync(ctx, acct.ID, taskRef, store.SyncSuccess{At: start, Partial: partial})
	} else {
		err = c.store.FailSync(ctx, acct.ID, taskRef, store.SyncFailure{
			Message:    runErr.Error(),
			Deactivate: api.IsAuth(runErr),
			At:         c.now(),
		})
	}

	switch {
	case errors.Is(err, store.ErrLockLost):
		metrics.ObserveSync("lock_lost", elapsed)
		c.logger.Warn("sync finished after its lock was released", append(attrs, "run_error", runErr)...)
		return errors.Join(runErr, err)
	case err != nil:
		return errors.Join(runErr, fmt.Errorf("recording sync outcome: %w", err))
	case runErr != nil:
		metrics.ObserveSync("failed", elapsed)
		if api.IsAuth(runErr) {
			c.logger.Error("sync failed, account deactivated", append(attrs, "error", runErr)...)
		} else {
			c.logger.Error("sync failed", append(attrs, "error", runErr)...)
		}
		return runErr
	default:
		metrics.ObserveSync("completed", elapsed)
		c.logger.Info("sync completed", append(attrs, "partial", partial)...)
		return nil
	}
}
