package mbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"sort"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

// Exporter writes message bodies as an mbox stream the Connector reads back.
// Attachments are not carried over; only the text and HTML bodies are.
type Exporter struct {
	w *mbox.Writer
}

// NewExporter returns an Exporter writing to w.
func NewExporter(w io.Writer) *Exporter {
	return &Exporter{w: mbox.NewWriter(w)}
}

// Write appends one message. id becomes the local part of its Message-Id.
func (e *Exporter) Write(id string, body api.MessageBody) error {
	from := "MAILER-DAEMON"
	if addr, err := mail.ParseAddress(body.Sender); err == nil {
		from = addr.Address
	}
	mw, err := e.w.CreateMessage(from, body.ReceivedAt)
	if err != nil {
		return fmt.Errorf("creating message %s: %w", id, err)
	}

	raw, err := render(id, body)
	if err != nil {
		return fmt.Errorf("rendering message %s: %w", id, err)
	}
	if _, err := mw.Write(raw); err != nil {
		return fmt.Errorf("writing message %s: %w", id, err)
	}
	return nil
}

// Close flushes the last message.
func (e *Exporter) Close() error {
	return e.w.Close()
}

func render(id string, body api.MessageBody) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	header("From", mime.QEncoding.Encode("utf-8", body.Sender))
	header("Subject", mime.QEncoding.Encode("utf-8", body.Subject))
	header("Date", body.ReceivedAt.Format(time.RFC1123Z))
	header("Message-Id", "<"+id+"@export.kharcha>")
	header("MIME-Version", "1.0")

	names := make([]string, 0, len(body.Headers))
	for k := range body.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		header(k, body.Headers[k])
	}

	switch {
	case body.BodyText != "" && body.BodyHTML != "":
		mpw := multipart.NewWriter(&buf)
		header("Content-Type", "multipart/alternative; boundary="+mpw.Boundary())
		buf.WriteString("\r\n")
		for _, p := range []struct{ typ, text string }{
			{"text/plain", body.BodyText},
			{"text/html", body.BodyHTML},
		} {
			pw, err := mpw.CreatePart(textproto.MIMEHeader{
				"Content-Type":              {p.typ + "; charset=utf-8"},
				"Content-Transfer-Encoding": {"quoted-printable"},
			})
			if err != nil {
				return nil, err
			}
			if err := writeQP(pw, p.text); err != nil {
				return nil, err
			}
		}
		if err := mpw.Close(); err != nil {
			return nil, err
		}
	default:
		typ, text := "text/plain", body.BodyText
		if text == "" && body.BodyHTML != "" {
			typ, text = "text/html", body.BodyHTML
		}
		header("Content-Type", typ+"; charset=utf-8")
		header("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, text); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeQP(w io.Writer, text string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := io.WriteString(qp, text); err != nil {
		return err
	}
	return qp.Close()
}

// Export copies up to limit messages of credential's mailbox from src into e,
// in the order src lists them. limit <= 0 exports everything.
func Export(ctx context.Context, src api.Mailbox, credential string, e *Exporter, limit int) (int, error) {
	opts := api.FetchOptions{MaxResults: 100}
	n := 0
	for {
		page, err := src.Fetch(ctx, credential, opts)
		if err != nil {
			return n, fmt.Errorf("listing messages: %w", err)
		}
		for _, m := range page.Messages {
			if limit > 0 && n >= limit {
				return n, nil
			}
			body, err := src.FetchBody(ctx, credential, m.ID)
			if err != nil {
				return n, fmt.Errorf("fetching message %s: %w", m.ID, err)
			}
			if err := e.Write(m.ID, body); err != nil {
				return n, err
			}
			n++
		}
		if page.NextCursor == "" {
			return n, nil
		}
		opts.Cursor = page.NextCursor
	}
}
