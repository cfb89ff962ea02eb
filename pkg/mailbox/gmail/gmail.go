// Package gmail implements a mailbox connector backed by the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/client"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/mailbox"
)

// Scopes are the OAuth scopes the connector needs.
var Scopes = []string{gmail.GmailReadonlyScope}

// ServiceFactory builds a Gmail service for a credential reference.
type ServiceFactory func(ctx context.Context, credential string) (*gmail.Service, error)

// Config tunes the connector.
type Config struct {
	// Query is a Gmail search expression ANDed with the incremental window,
	// e.g. "-category:social".
	Query string
}

// Connector lists and fetches messages for any number of accounts. Services
// are cached per credential.
type Connector struct {
	factory ServiceFactory
	query   string
	logger  *slog.Logger

	mu       sync.Mutex
	services map[string]*gmail.Service
}

// New returns a Connector using factory to authorize each credential.
func New(factory ServiceFactory, cfg Config, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		factory:  factory,
		query:    cfg.Query,
		logger:   logger.With("component", "gmail"),
		services: make(map[string]*gmail.Service),
	}
}

// FromClientStore returns a ServiceFactory that authorizes with tokens kept by store.
// A missing token is reported as an authentication failure.
func FromClientStore(store *client.Store) ServiceFactory {
	return func(ctx context.Context, credential string) (*gmail.Service, error) {
		httpClient, err := store.HTTPClient(ctx, credential)
		if errors.Is(err, client.ErrNoToken) {
			return nil, &api.AuthError{At: time.Now(), Err: err}
		}
		if err != nil {
			return nil, err
		}
		// The service outlives the call that created it.
		return gmail.NewService(context.WithoutCancel(ctx), option.WithHTTPClient(httpClient))
	}
}

func (c *Connector) service(ctx context.Context, credential string) (*gmail.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if svc, ok := c.services[credential]; ok {
		return svc, nil
	}
	svc, err := c.factory(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	c.services[credential] = svc
	return svc, nil
}

// Forget drops the cached service for a credential, e.g. after it was rejected.
func (c *Connector) Forget(credential string) {
	c.mu.Lock()
	delete(c.services, credential)
	c.mu.Unlock()
}

// Fetch lists one page of message references, newest first.
func (c *Connector) Fetch(ctx context.Context, credential string, opts api.FetchOptions) (api.Page, error) {
	svc, err := c.service(ctx, credential)
	if err != nil {
		return api.Page{}, mailbox.Classify("gmail list", err)
	}

	call := svc.Users.Messages.List("me").IncludeSpamTrash(false)
	if opts.MaxResults > 0 {
		call = call.MaxResults(int64(opts.MaxResults))
	}
	if q := c.searchQuery(opts.Since); q != "" {
		call = call.Q(q)
	}
	if opts.Cursor != "" {
		call = call.PageToken(opts.Cursor)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		err = mailbox.Classify("gmail list", err)
		if api.IsAuth(err) {
			c.Forget(credential)
		}
		return api.Page{}, err
	}

	page := api.Page{
		Messages:   make([]api.MessageSummary, 0, len(resp.Messages)),
		NextCursor: resp.NextPageToken,
	}
	for _, m := range resp.Messages {
		page.Messages = append(page.Messages, api.MessageSummary{ID: m.Id, ThreadID: m.ThreadId})
	}

	c.logger.Debug("listed messages", "count", len(page.Messages), "has_more", page.NextCursor != "")
	return page, nil
}

func (c *Connector) searchQuery(since time.Time) string {
	parts := make([]string, 0, 2)
	if c.query != "" {
		parts = append(parts, c.query)
	}
	if !since.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", since.Unix()))
	}
	return strings.Join(parts, " ")
}

// FetchBody retrieves a full message.
func (c *Connector) FetchBody(ctx context.Context, credential, messageID string) (api.MessageBody, error) {
	svc, err := c.service(ctx, credential)
	if err != nil {
		return api.MessageBody{}, mailbox.Classify("gmail get", err)
	}

	msg, err := svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		err = mailbox.Classify("gmail get", err)
		if api.IsAuth(err) {
			c.Forget(credential)
		}
		return api.MessageBody{}, err
	}

	return toBody(msg), nil
}

// headersKept are copied into MessageBody.Headers.
var headersKept = []string{"List-Unsubscribe", "List-Id", "Precedence"}

func toBody(msg *gmail.Message) api.MessageBody {
	body := api.MessageBody{
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
		Headers:    make(map[string]string),
	}
	if msg.Payload == nil {
		return body
	}

	for _, h := range msg.Payload.Headers {
		switch {
		case strings.EqualFold(h.Name, "Subject"):
			body.Subject = h.Value
		case strings.EqualFold(h.Name, "From"):
			body.Sender = h.Value
		default:
			for _, name := range headersKept {
				if strings.EqualFold(h.Name, name) {
					body.Headers[name] = h.Value
				}
			}
		}
	}

	walkParts(msg.Payload, &body)
	return body
}

// walkParts collects the first text/plain and text/html parts, recursing into
// multipart containers.
func walkParts(part *gmail.MessagePart, body *api.MessageBody) {
	if part.Filename != "" || (part.Body != nil && part.Body.AttachmentId != "") {
		body.HasAttachments = true
		return
	}

	switch {
	case strings.HasPrefix(part.MimeType, "multipart/"):
		for _, child := range part.Parts {
			walkParts(child, body)
		}
	case part.MimeType == "text/plain" && body.BodyText == "":
		body.BodyText = decodeData(part.Body)
	case part.MimeType == "text/html" && body.BodyHTML == "":
		body.BodyHTML = decodeData(part.Body)
	}
}

// decodeData decodes Gmail's base64url part data, padded or not.
func decodeData(b *gmail.MessagePartBody) string {
	if b == nil || b.Data == "" {
		return ""
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(b.Data, "="))
	if err != nil {
		return ""
	}
	return string(raw)
}
