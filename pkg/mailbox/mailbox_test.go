package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

type flakyMailbox struct {
	failures []error
	calls    int
}

func (f *flakyMailbox) next() error {
	f.calls++
	if f.calls <= len(f.failures) {
		return f.failures[f.calls-1]
	}
	return nil
}

func (f *flakyMailbox) Fetch(_ context.Context, _ string, _ api.FetchOptions) (api.Page, error) {
	if err := f.next(); err != nil {
		return api.Page{}, err
	}
	return api.Page{Messages: []api.MessageSummary{{ID: "m1"}}}, nil
}

func (f *flakyMailbox) FetchBody(_ context.Context, _, id string) (api.MessageBody, error) {
	if err := f.next(); err != nil {
		return api.MessageBody{}, err
	}
	return api.MessageBody{Subject: id}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{Attempts: 3, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrying_RecoversFromTransientErrors(t *testing.T) {
	inner := &flakyMailbox{failures: []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		&googleapi.Error{Code: http.StatusTooManyRequests},
	}}
	m := WithRetry(inner, fastRetry(), nil)

	page, err := m.Fetch(context.Background(), "cred", api.FetchOptions{MaxResults: 10})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Errorf("messages: got %d, want 1", len(page.Messages))
	}
	if inner.calls != 3 {
		t.Errorf("calls: got %d, want 3", inner.calls)
	}
}

func TestRetrying_GivesUpAfterAttempts(t *testing.T) {
	inner := &flakyMailbox{failures: []error{
		&googleapi.Error{Code: http.StatusBadGateway},
		&googleapi.Error{Code: http.StatusBadGateway},
		&googleapi.Error{Code: http.StatusBadGateway},
		&googleapi.Error{Code: http.StatusBadGateway},
	}}
	m := WithRetry(inner, fastRetry(), nil)

	_, err := m.FetchBody(context.Background(), "cred", "m1")
	if !api.IsTransient(err) {
		t.Fatalf("error: got %v, want transient", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls: got %d, want 3", inner.calls)
	}
}

func TestRetrying_AuthErrorNotRetried(t *testing.T) {
	inner := &flakyMailbox{failures: []error{&googleapi.Error{Code: http.StatusUnauthorized}}}
	m := WithRetry(inner, fastRetry(), nil)

	_, err := m.Fetch(context.Background(), "cred", api.FetchOptions{})
	if !api.IsAuth(err) {
		t.Fatalf("error: got %v, want auth error", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls: got %d, want 1", inner.calls)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantAuth      bool
		wantTransient bool
	}{
		{name: "nil", err: nil},
		{name: "unauthorized", err: &googleapi.Error{Code: http.StatusUnauthorized}, wantAuth: true},
		{name: "forbidden", err: &googleapi.Error{Code: http.StatusForbidden}, wantAuth: true},
		{
			name: "forbidden rate limit",
			err: &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{
				{Reason: "userRateLimitExceeded"},
			}},
			wantTransient: true,
		},
		{name: "too many requests", err: &googleapi.Error{Code: http.StatusTooManyRequests}, wantTransient: true},
		{name: "server error", err: &googleapi.Error{Code: http.StatusInternalServerError}, wantTransient: true},
		{name: "not found", err: &googleapi.Error{Code: http.StatusNotFound}},
		{name: "invalid grant", err: fmt.Errorf("refreshing: %w", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}), wantAuth: true},
		{
			name:          "token endpoint down",
			err:           &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadGateway}},
			wantTransient: true,
		},
		{name: "deadline", err: context.DeadlineExceeded, wantTransient: true},
		{name: "canceled", err: context.Canceled},
		{name: "plain", err: errors.New("boom")},
		{name: "already classified", err: &api.AuthError{AccountID: "a1"}, wantAuth: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify("fetch", tc.err)
			if tc.err == nil {
				if got != nil {
					t.Fatalf("got %v, want nil", got)
				}
				return
			}
			if api.IsAuth(got) != tc.wantAuth {
				t.Errorf("auth: got %v, want %v (%v)", api.IsAuth(got), tc.wantAuth, got)
			}
			if api.IsTransient(got) != tc.wantTransient {
				t.Errorf("transient: got %v, want %v (%v)", api.IsTransient(got), tc.wantTransient, got)
			}
			if !errors.Is(got, tc.err) {
				t.Errorf("classified error does not wrap the original: %v", got)
			}
		})
	}
}
