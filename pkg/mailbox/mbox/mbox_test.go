package mbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

const debitAlert = "From: Nabil Bank <alerts@nabilbank.com>\n" +
	"Subject: =?UTF-8?Q?Transaction_Alert?=\n" +
	"Date: Mon, 15 Jan 2024 10:00:00 +0000\n" +
	"Message-Id: <a1@nabilbank.com>\n" +
	"MIME-Version: 1.0\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\n" +
	"\n" +
	"--XYZ\n" +
	"Content-Type: text/plain; charset=utf-8\n" +
	"Content-Transfer-Encoding: quoted-printable\n" +
	"\n" +
	"Your account was debited NPR 2,000.00 at Bhatbhateni =\n" +
	"Supermarket.\n" +
	"--XYZ\n" +
	"Content-Type: application/pdf\n" +
	"Content-Disposition: attachment; filename=statement.pdf\n" +
	"Content-Transfer-Encoding: base64\n" +
	"\n" +
	"JVBERi0=\n" +
	"--XYZ--\n"

const newsletter = "From: Shop <news@shop.example>\n" +
	"Subject: Weekly deals\n" +
	"Date: Tue, 16 Jan 2024 08:00:00 +0000\n" +
	"Message-Id: <n1@shop.example>\n" +
	"List-Unsubscribe: <mailto:u@shop.example>\n" +
	"Content-Type: text/html; charset=utf-8\n" +
	"\n" +
	"<p>Deals</p>\n"

func writeMbox(t *testing.T, dir, name string, messages ...string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name+".mbox"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := mbox.NewWriter(f)
	for _, m := range messages {
		mw, err := w.CreateMessage("sender@example.com", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(mw, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConnector_FetchAndBody(t *testing.T) {
	dir := t.TempDir()
	// The duplicate is dropped by Message-Id.
	writeMbox(t, dir, "alice", debitAlert, newsletter, debitAlert)
	c := New(Config{Dir: dir}, nil)
	ctx := context.Background()

	first, err := c.Fetch(ctx, "alice", api.FetchOptions{MaxResults: 1})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(first.Messages) != 1 || first.NextCursor != "1" {
		t.Fatalf("first page: got %+v", first)
	}

	second, err := c.Fetch(ctx, "alice", api.FetchOptions{MaxResults: 1, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(second.Messages) != 1 || second.NextCursor != "" {
		t.Fatalf("second page: got %+v", second)
	}

	// Newest first: the newsletter, then the alert.
	news, err := c.FetchBody(ctx, "alice", first.Messages[0].ID)
	if err != nil {
		t.Fatalf("FetchBody: %v", err)
	}
	if news.Subject != "Weekly deals" || news.Headers["List-Unsubscribe"] == "" || strings.TrimSpace(news.BodyHTML) != "<p>Deals</p>" {
		t.Errorf("newsletter: got %+v", news)
	}

	alert, err := c.FetchBody(ctx, "alice", second.Messages[0].ID)
	if err != nil {
		t.Fatalf("FetchBody: %v", err)
	}
	if alert.Subject != "Transaction Alert" {
		t.Errorf("subject: got %q", alert.Subject)
	}
	if strings.TrimSpace(alert.BodyText) != "Your account was debited NPR 2,000.00 at Bhatbhateni Supermarket." {
		t.Errorf("body: got %q", alert.BodyText)
	}
	if !alert.HasAttachments {
		t.Error("has_attachments: got false, want true")
	}
	if want := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC); !alert.ReceivedAt.Equal(want) {
		t.Errorf("received_at: got %v, want %v", alert.ReceivedAt, want)
	}
}

func TestConnector_Since(t *testing.T) {
	dir := t.TempDir()
	writeMbox(t, dir, "alice", debitAlert, newsletter)
	c := New(Config{Dir: dir}, nil)

	page, err := c.Fetch(context.Background(), "alice", api.FetchOptions{Since: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Errorf("messages: got %d, want 1", len(page.Messages))
	}
}

func TestConnector_Errors(t *testing.T) {
	dir := t.TempDir()
	writeMbox(t, dir, "alice", newsletter)
	c := New(Config{Dir: dir}, nil)
	ctx := context.Background()

	if _, err := c.Fetch(ctx, "bob", api.FetchOptions{}); !api.IsAuth(err) {
		t.Errorf("missing file: got %v, want auth error", err)
	}
	if _, err := c.Fetch(ctx, "../alice", api.FetchOptions{}); !api.IsAuth(err) {
		t.Errorf("path escape: got %v, want auth error", err)
	}
	if _, err := c.FetchBody(ctx, "alice", "nope"); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
	if _, err := c.Fetch(ctx, "alice", api.FetchOptions{Cursor: "x"}); err == nil {
		t.Error("bad cursor: expected error")
	}
}
