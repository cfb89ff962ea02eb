// Package mailbox holds what every mailbox connector shares: mapping provider
// errors onto the api error kinds, and a decorator that retries transient
// failures with bounded exponential backoff.
package mailbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

// Default backoff settings.
const (
	DefaultAttempts = 5
	DefaultDelay    = 500 * time.Millisecond
	DefaultMaxDelay = 30 * time.Second
)

// RetryConfig bounds the retrying decorator.
type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts == 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// Retrying wraps a Mailbox and retries calls that fail with a *api.TransientError.
// Authentication failures and unclassified errors are returned on the first attempt.
type Retrying struct {
	next   api.Mailbox
	cfg    RetryConfig
	logger *slog.Logger
}

// WithRetry decorates next with bounded exponential backoff.
func WithRetry(next api.Mailbox, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		next:   next,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "mailbox_retry"),
	}
}

// Fetch lists one page of messages.
func (r *Retrying) Fetch(ctx context.Context, credential string, opts api.FetchOptions) (api.Page, error) {
	var page api.Page
	err := r.do(ctx, "fetch", func() error {
		var err error
		page, err = r.next.Fetch(ctx, credential, opts)
		return err
	})
	return page, err
}

// FetchBody retrieves one message.
func (r *Retrying) FetchBody(ctx context.Context, credential, messageID string) (api.MessageBody, error) {
	var body api.MessageBody
	err := r.do(ctx, "fetch_body", func() error {
		var err error
		body, err = r.next.FetchBody(ctx, credential, messageID)
		return err
	})
	return body, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		func() error {
			return Classify(op, fn())
		},
		retry.RetryIf(api.IsTransient),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("mailbox call failed, retrying", "op", op, "attempt", n+1, "error", err)
		}),
		retry.Attempts(r.cfg.Attempts),
		retry.Delay(r.cfg.Delay),
		retry.MaxDelay(r.cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

// Classify maps a provider error onto *api.AuthError or *api.TransientError.
// Errors that fit neither, including context cancellation, are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		authErr      *api.AuthError
		transientErr *api.TransientError
	)
	if errors.As(err, &authErr) || errors.As(err, &transientErr) {
		return err
	}

	now := time.Now()
	auth := func() error { return &api.AuthError{At: now, Err: err} }
	transient := func() error { return &api.TransientError{Op: op, At: now, Err: err} }

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case isRateLimit(apiErr):
			return transient()
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return auth()
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
			return transient()
		}
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return transient()
		}
		return auth()
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transient()
	}

	return err
}

// Gmail reports quota exhaustion as 403 with a rate limit reason.
func isRateLimit(apiErr *googleapi.Error) bool {
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		if strings.HasSuffix(item.Reason, "RateLimitExceeded") || item.Reason == "quotaExceeded" {
			return true
		}
	}
	return false
}
