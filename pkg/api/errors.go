package api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadySyncing is returned when an account already holds a live sync lock.
	ErrAlreadySyncing = errors.New("sync already in progress")
	// ErrAccountInactive is returned when syncing an account that needs reconnecting.
	ErrAccountInactive = errors.New("account is inactive")
	// ErrApprovalInProgress is returned while another approve call holds the approval.
	ErrApprovalInProgress = errors.New("approval is being approved")
)

// AuthError means the provider rejected the stored credential. It is never retried.
type AuthError struct {
	AccountID string
	At        time.Time
	Err       error
}

func (e *AuthError) Error() string {
	if e.AccountID == "" {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("authentication failed for account %s: %v", e.AccountID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError is a provider or network failure that may succeed on retry.
type TransientError struct {
	Op  string
	At  time.Time
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// ValidationError is returned by approve when the final values are unusable.
// The approval stays PENDING and can be retried with corrected values.
type ValidationError struct {
	ApprovalID string
	At         time.Time
	Fields     []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Problem)
	}
	return fmt.Sprintf("approval %s: invalid values: %s", e.ApprovalID, strings.Join(parts, "; "))
}

// InvalidStateError is returned when resolving an approval that is already resolved.
type InvalidStateError struct {
	ApprovalID string
	Status     ApprovalStatus
	At         time.Time
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("approval %s is already %s", e.ApprovalID, e.Status)
}

// IsAuth reports whether err is or wraps an *AuthError.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTransient reports whether err is or wraps a *TransientError.
func IsTransient(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}
