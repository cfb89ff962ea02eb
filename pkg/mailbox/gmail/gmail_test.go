package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

func newTestConnector(t *testing.T, handler http.HandlerFunc) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	factory := func(ctx context.Context, _ string) (*gmail.Service, error) {
		return gmail.NewService(ctx,
			option.WithHTTPClient(srv.Client()),
			option.WithEndpoint(srv.URL+"/"),
		)
	}
	return New(factory, Config{Query: "-category:social"}, nil)
}

func TestConnector_Fetch(t *testing.T) {
	var gotQuery, gotToken, gotMax string
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/messages") {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("q")
		gotToken = r.URL.Query().Get("pageToken")
		gotMax = r.URL.Query().Get("maxResults")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages":      []map[string]string{{"id": "m1", "threadId": "t1"}, {"id": "m2", "threadId": "t1"}},
			"nextPageToken": "next",
		})
	})

	since := time.Unix(1700000000, 0)
	page, err := c.Fetch(context.Background(), "alice", api.FetchOptions{MaxResults: 50, Cursor: "tok", Since: since})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if gotQuery != "-category:social after:1700000000" {
		t.Errorf("q: got %q", gotQuery)
	}
	if gotToken != "tok" {
		t.Errorf("pageToken: got %q, want tok", gotToken)
	}
	if gotMax != "50" {
		t.Errorf("maxResults: got %q, want 50", gotMax)
	}
	if len(page.Messages) != 2 || page.Messages[0].ID != "m1" || page.Messages[1].ThreadID != "t1" {
		t.Errorf("messages: got %+v", page.Messages)
	}
	if page.NextCursor != "next" {
		t.Errorf("next cursor: got %q, want next", page.NextCursor)
	}
}

func TestConnector_FetchBody(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           "m1",
			"internalDate": "1705312800000",
			"payload": map[string]any{
				"mimeType": "multipart/mixed",
				"headers": []map[string]string{
					{"name": "Subject", "value": "Transaction Alert"},
					{"name": "From", "value": "Nabil Bank <alerts@nabilbank.com>"},
					{"name": "List-Unsubscribe", "value": "<mailto:u@nabilbank.com>"},
				},
				"parts": []map[string]any{
					{
						"mimeType": "multipart/alternative",
						"parts": []map[string]any{
							{"mimeType": "text/plain", "body": map[string]any{"data": enc("debited NPR 500")}},
							{"mimeType": "text/html", "body": map[string]any{"data": enc("<p>debited NPR 500</p>")}},
						},
					},
					{"mimeType": "application/pdf", "filename": "statement.pdf", "body": map[string]any{"attachmentId": "a1"}},
				},
			},
		})
	})

	body, err := c.FetchBody(context.Background(), "alice", "m1")
	if err != nil {
		t.Fatalf("FetchBody: %v", err)
	}

	if body.Subject != "Transaction Alert" {
		t.Errorf("subject: got %q", body.Subject)
	}
	if body.Sender != "Nabil Bank <alerts@nabilbank.com>" {
		t.Errorf("sender: got %q", body.Sender)
	}
	if body.BodyText != "debited NPR 500" {
		t.Errorf("text: got %q", body.BodyText)
	}
	if body.BodyHTML != "<p>debited NPR 500</p>" {
		t.Errorf("html: got %q", body.BodyHTML)
	}
	if !body.HasAttachments {
		t.Error("has_attachments: got false, want true")
	}
	if want := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC); !body.ReceivedAt.Equal(want) {
		t.Errorf("received_at: got %v, want %v", body.ReceivedAt, want)
	}
	if body.Headers["List-Unsubscribe"] == "" {
		t.Error("List-Unsubscribe header not kept")
	}
}

func TestConnector_ErrorKinds(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantAuth      bool
		wantTransient bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantAuth: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantTransient: true},
		{name: "not found", status: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestConnector(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, tc.status)
			})

			_, err := c.FetchBody(context.Background(), "alice", "m1")
			if err == nil {
				t.Fatal("expected error")
			}
			if api.IsAuth(err) != tc.wantAuth {
				t.Errorf("auth: got %v, want %v (%v)", api.IsAuth(err), tc.wantAuth, err)
			}
			if api.IsTransient(err) != tc.wantTransient {
				t.Errorf("transient: got %v, want %v (%v)", api.IsTransient(err), tc.wantTransient, err)
			}
		})
	}
}
