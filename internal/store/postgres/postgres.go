// Package postgres implements store.Store on PostgreSQL. The sync lock is a
// single conditional UPDATE, so workers on separate hosts cannot both win it.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Subhangi-2216/KharchaNepal-sub000/internal/store"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New migrates the schema and returns a Store on pool. Close closes the pool.
func New(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{pool: pool, logger: logger.With("component", "store_postgres")}

	s.logger.Info("running database migrations")
	if err := Migrate(pool); err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	s.logger.Info("migrations completed successfully")
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

const accountColumns = `id, owner, address, provider, credential_ref, status, last_successful_sync_at,
	sync_in_progress, sync_task_ref, sync_started_at, sync_cursor, consecutive_error_count, last_error,
	created_at, updated_at`

func scanAccount(row pgx.Row) (api.MailAccount, error) {
	var (
		a       api.MailAccount
		taskRef *string
	)
	err := row.Scan(
		&a.ID, &a.Owner, &a.Address, &a.Provider, &a.CredentialRef, &a.Status, &a.LastSuccessfulSyncAt,
		&a.SyncInProgress, &taskRef, &a.SyncStartedAt, &a.SyncCursor, &a.ConsecutiveErrorCount, &a.LastError,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if taskRef != nil {
		a.SyncTaskRef = *taskRef
	}
	return a, err
}

func (s *Store) CreateAccount(ctx context.Context, acct api.MailAccount) (api.MailAccount, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.Status == "" {
		acct.Status = api.AccountActive
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO mail_accounts (id, owner, address, provider, credential_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+accountColumns,
		acct.ID, acct.Owner, acct.Address, acct.Provider, acct.CredentialRef, acct.Status,
	)
	created, err := scanAccount(row)
	if err != nil {
		return api.MailAccount{}, fmt.Errorf("inserting account: %w", err)
	}
	return created, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (api.MailAccount, error) {
	acct, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM mail_accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return api.MailAccount{}, fmt.Errorf("account %s: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return api.MailAccount{}, fmt.Errorf("querying account %s: %w", id, err)
	}
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context, owner string) ([]api.MailAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM mail_accounts
		WHERE $1 = '' OR owner = $1
		ORDER BY created_at, id COLLATE "C"`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.MailAccount, error) {
		return scanAccount(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning accounts: %w", err)
	}
	return accounts, nil
}

func (s *Store) AcquireSyncLock(ctx context.Context, id, taskRef string, now, staleBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mail_accounts
		SET sync_in_progress = TRUE, sync_task_ref = $2, sync_started_at = $3, updated_at = $3
		WHERE id = $1
		  AND status = 'ACTIVE'
		  AND (sync_in_progress = FALSE OR sync_started_at <= $4)`,
		id, taskRef, now, staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("acquiring sync lock for %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetAccount(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// lockLost turns a zero-row update into ErrNotFound or ErrLockLost.
func (s *Store) lockLost(ctx context.Context, id, taskRef string) error {
	if _, err := s.GetAccount(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("account %s task %s: %w", id, taskRef, store.ErrLockLost)
}

func (s *Store) SaveSyncCursor(ctx context.Context, id, taskRef, cursor string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mail_accounts SET sync_cursor = $3, updated_at = NOW()
		WHERE id = $1 AND sync_in_progress AND sync_task_ref = $2`,
		id, taskRef, cursor,
	)
	if err != nil {
		return fmt.Errorf("saving sync cursor for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.lockLost(ctx, id, taskRef)
	}
	return nil
}

func (s *Store) CompleteSync(ctx context.Context, id, taskRef string, done store.SyncSuccess) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mail_accounts
		SET sync_in_progress = FALSE, sync_task_ref = NULL, sync_started_at = NULL, sync_cursor = '',
		    last_successful_sync_at = CASE WHEN $4 THEN last_successful_sync_at ELSE $3 END,
		    consecutive_error_count = 0, last_error = '', updated_at = $3
		WHERE id = $1 AND sync_in_progress AND sync_task_ref = $2`,
		id, taskRef, done.At, done.Partial,
	)
	if err != nil {
		return fmt.Errorf("completing sync for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.lockLost(ctx, id, taskRef)
	}
	return nil
}

func (s *Store) FailSync(ctx context.Context, id, taskRef string, f store.SyncFailure) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mail_accounts
		SET sync_in_progress = FALSE, sync_task_ref = NULL, sync_started_at = NULL,
		    consecutive_error_count = consecutive_error_count + 1, last_error = $3,
		    status = CASE WHEN $4 THEN 'INACTIVE' ELSE status END,
		    updated_at = $5
		WHERE id = $1 AND sync_in_progress AND sync_task_ref = $2`,
		id, taskRef, f.Message, f.Deactivate, f.At,
	)
	if err != nil {
		return fmt.Errorf("failing sync for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.lockLost(ctx, id, taskRef)
	}
	return nil
}

func (s *Store) ReleaseSyncLock(ctx context.Context, id, taskRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mail_accounts
		SET sync_in_progress = FALSE, sync_task_ref = NULL, sync_started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND sync_in_progress AND sync_task_ref = $2`,
		id, taskRef,
	)
	if err != nil {
		return fmt.Errorf("releasing sync lock for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.lockLost(ctx, id, taskRef)
	}
	return nil
}

func (s *Store) ReleaseStaleLocks(ctx context.Context, staleBefore time.Time, reason string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE mail_accounts
		SET sync_in_progress = FALSE, sync_task_ref = NULL, sync_started_at = NULL,
		    last_error = $2, updated_at = NOW()
		WHERE sync_in_progress AND sync_started_at <= $1
		RETURNING id`,
		staleBefore, reason,
	)
	if err != nil {
		return nil, fmt.Errorf("releasing stale locks: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning released locks: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

const messageColumns = `id, account_id, provider_message_id, subject, sender, received_at, body_text, body_html,
	processing_status, financial_confidence, has_attachments, created_at`

func scanMessage(row pgx.Row, extra ...any) (api.MailMessage, error) {
	var m api.MailMessage
	dest := []any{
		&m.ID, &m.AccountID, &m.ProviderMessageID, &m.Subject, &m.Sender, &m.ReceivedAt, &m.BodyText, &m.BodyHTML,
		&m.ProcessingStatus, &m.FinancialConfidence, &m.HasAttachments, &m.CreatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return m, err
}

func (s *Store) UpsertMessage(ctx context.Context, msg api.MailMessage) (api.MailMessage, bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ProcessingStatus == "" {
		msg.ProcessingStatus = api.MessagePending
	}

	var created bool
	row := s.pool.QueryRow(ctx, `
		INSERT INTO mail_messages (id, account_id, provider_message_id, subject, sender, received_at,
		                           body_text, body_html, processing_status, financial_confidence, has_attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id, provider_message_id) DO UPDATE SET account_id = EXCLUDED.account_id
		RETURNING `+messageColumns+`, (xmax = 0)`,
		msg.ID, msg.AccountID, msg.ProviderMessageID, msg.Subject, msg.Sender, msg.ReceivedAt,
		msg.BodyText, msg.BodyHTML, msg.ProcessingStatus, msg.FinancialConfidence, msg.HasAttachments,
	)
	stored, err := scanMessage(row, &created)
	if err != nil {
		return api.MailMessage{}, false, fmt.Errorf("upserting message %s: %w", msg.ProviderMessageID, err)
	}
	return stored, created, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (api.MailMessage, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM mail_messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return api.MailMessage{}, fmt.Errorf("message %s: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return api.MailMessage{}, fmt.Errorf("querying message %s: %w", id, err)
	}
	return msg, nil
}

func (s *Store) FindMessage(ctx context.Context, accountID, providerMessageID string) (api.MailMessage, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM mail_messages
		WHERE account_id = $1 AND provider_message_id = $2`,
		accountID, providerMessageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return api.MailMessage{}, fmt.Errorf("message %s/%s: %w", accountID, providerMessageID, api.ErrNotFound)
	}
	if err != nil {
		return api.MailMessage{}, fmt.Errorf("querying message %s/%s: %w", accountID, providerMessageID, err)
	}
	return msg, nil
}

func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status api.ProcessingStatus, confidence *float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mail_messages
		SET processing_status = $2, financial_confidence = COALESCE($3, financial_confidence)
		WHERE id = $1`,
		id, status, confidence,
	)
	if err != nil {
		return fmt.Errorf("updating message %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, api.ErrNotFound)
	}
	return nil
}

const approvalColumns = `id, mail_message_id, owner, extracted_data, confidence_score, status,
	suggested_category, expense_id, created_at, resolved_at`

func scanApproval(row pgx.Row) (api.Approval, error) {
	var (
		a    api.Approval
		data []byte
	)
	if err := row.Scan(
		&a.ID, &a.MailMessageID, &a.Owner, &data, &a.ConfidenceScore, &a.Status,
		&a.SuggestedCategory, &a.ExpenseID, &a.CreatedAt, &a.ResolvedAt,
	); err != nil {
		return api.Approval{}, err
	}
	if err := json.Unmarshal(data, &a.ExtractedData); err != nil {
		return api.Approval{}, fmt.Errorf("decoding extracted data: %w", err)
	}
	return a, nil
}

func (s *Store) CreateApproval(ctx context.Context, a api.Approval) (api.Approval, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = api.ApprovalPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(a.ExtractedData)
	if err != nil {
		return api.Approval{}, fmt.Errorf("encoding extracted data: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO approvals (id, mail_message_id, owner, extracted_data, confidence_score, status,
		                       suggested_category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (mail_message_id) DO UPDATE SET mail_message_id = EXCLUDED.mail_message_id
		RETURNING `+approvalColumns,
		a.ID, a.MailMessageID, a.Owner, data, a.ConfidenceScore, a.Status, a.SuggestedCategory, a.CreatedAt,
	)
	stored, err := scanApproval(row)
	if err != nil {
		return api.Approval{}, fmt.Errorf("inserting approval for message %s: %w", a.MailMessageID, err)
	}
	return stored, nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (api.Approval, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return api.Approval{}, fmt.Errorf("approval %s: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return api.Approval{}, fmt.Errorf("querying approval %s: %w", id, err)
	}
	return a, nil
}

// unclaimable explains why a conditional approval update matched no row.
func (s *Store) unclaimable(ctx context.Context, id string) (api.Approval, error) {
	current, err := s.GetApproval(ctx, id)
	if err != nil {
		return api.Approval{}, err
	}
	if current.Status != api.ApprovalPending {
		return current, fmt.Errorf("approval %s is %s: %w", id, current.Status, store.ErrNotPending)
	}
	return current, fmt.Errorf("approval %s: %w", id, store.ErrApprovalClaimed)
}

func (s *Store) ClaimApproval(ctx context.Context, id, claimRef string, at, staleBefore time.Time) (api.Approval, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx, `
		UPDATE approvals SET claim_ref = $2, claimed_at = $3
		WHERE id = $1 AND status = 'PENDING' AND (claim_ref IS NULL OR claimed_at <= $4)
		RETURNING `+approvalColumns,
		id, claimRef, at, staleBefore,
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return api.Approval{}, fmt.Errorf("claiming approval %s: %w", id, err)
	}
	return s.unclaimable(ctx, id)
}

func (s *Store) ReleaseApproval(ctx context.Context, id, claimRef string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE approvals SET claim_ref = NULL, claimed_at = NULL
		WHERE id = $1 AND claim_ref = $2`,
		id, claimRef,
	)
	if err != nil {
		return fmt.Errorf("releasing approval %s: %w", id, err)
	}
	return nil
}

func (s *Store) ResolveApproval(ctx context.Context, id, claimRef string, status api.ApprovalStatus, resolvedAt time.Time, expenseID string) (api.Approval, error) {
	a, err := scanApproval(s.pool.QueryRow(ctx, `
		UPDATE approvals
		SET status = $2, resolved_at = $3, expense_id = $4, claim_ref = NULL, claimed_at = NULL
		WHERE id = $1 AND status = 'PENDING' AND claim_ref IS NOT DISTINCT FROM NULLIF($5, '')
		RETURNING `+approvalColumns,
		id, status, resolvedAt, expenseID, claimRef,
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return api.Approval{}, fmt.Errorf("resolving approval %s: %w", id, err)
	}
	return s.unclaimable(ctx, id)
}

var sortColumns = map[store.SortKey]string{
	store.SortCreatedAt:  "created_at",
	store.SortConfidence: "confidence_score",
	store.SortStatus:     "status",
}

func (s *Store) ListApprovals(ctx context.Context, q store.ApprovalQuery) ([]api.Approval, error) {
	col, ok := sortColumns[q.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}

	var (
		where []string
		args  []any
	)
	if q.Owner != "" {
		args = append(args, q.Owner)
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, q.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + approvalColumns + ` FROM approvals`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&sb, ` ORDER BY %s %s`, col, dir)
	if col != "created_at" {
		fmt.Fprintf(&sb, `, created_at %s`, dir)
	}
	fmt.Fprintf(&sb, `, id COLLATE "C" %s`, dir)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing approvals: %w", err)
	}
	approvals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.Approval, error) {
		return scanApproval(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning approvals: %w", err)
	}
	return approvals, nil
}
