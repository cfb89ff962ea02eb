package mbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

func TestExport_RoundTrip(t *testing.T) {
	src := t.TempDir()
	writeMbox(t, src, "alice", debitAlert, newsletter)

	dst := t.TempDir()
	f, err := os.Create(filepath.Join(dst, "copy.mbox"))
	if err != nil {
		t.Fatal(err)
	}
	exp := NewExporter(f)
	n, err := Export(context.Background(), New(Config{Dir: src}, nil), "alice", exp, 0)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("exported: got %d, want 2", n)
	}

	c := New(Config{Dir: dst}, nil)
	page, err := c.Fetch(context.Background(), "copy", api.FetchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("messages: got %d, want 2", len(page.Messages))
	}

	// Newest first: the newsletter, then the alert.
	news, err := c.FetchBody(context.Background(), "copy", page.Messages[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if news.Headers["List-Unsubscribe"] == "" || !strings.Contains(news.BodyHTML, "<p>Deals</p>") {
		t.Errorf("newsletter: got %+v", news)
	}

	alert, err := c.FetchBody(context.Background(), "copy", page.Messages[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if alert.Subject != "Transaction Alert" || alert.Sender != "Nabil Bank <alerts@nabilbank.com>" {
		t.Errorf("alert headers: got subject %q sender %q", alert.Subject, alert.Sender)
	}
	if !strings.Contains(alert.BodyText, "Bhatbhateni Supermarket") {
		t.Errorf("alert body: got %q", alert.BodyText)
	}
	if want := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC); !alert.ReceivedAt.Equal(want) {
		t.Errorf("received: got %v, want %v", alert.ReceivedAt, want)
	}
}

func TestExport_Max(t *testing.T) {
	src := t.TempDir()
	writeMbox(t, src, "alice", debitAlert, newsletter)

	var sb strings.Builder
	exp := NewExporter(&sb)
	n, err := Export(context.Background(), New(Config{Dir: src}, nil), "alice", exp, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := exp.Close(); err != nil {
		t.Fatal(err)
	}
	if n != 1 || strings.Count(sb.String(), "Message-Id:") != 1 {
		t.Errorf("exported: got %d messages, output %q", n, sb.String())
	}
}

func TestRender_NonASCIISubject(t *testing.T) {
	raw, err := render("x1", api.MessageBody{
		Sender:     "eSewa <noreply@esewa.com.np>",
		Subject:    "भुक्तानी सफल",
		BodyText:   "Paid NPR 500",
		ReceivedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	body, id, err := parseMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if body.Subject != "भुक्तानी सफल" || id != "<x1@export.kharcha>" {
		t.Errorf("got subject %q id %q", body.Subject, id)
	}
}
