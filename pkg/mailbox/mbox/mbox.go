// Package mbox implements an offline mailbox connector over mbox files, used
// to import exported mail and to replay fixtures without a provider account.
package mbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

// Config tunes the connector.
type Config struct {
	// Dir holds one mbox file per credential reference: <Dir>/<credential>.mbox.
	Dir string
}

// Connector serves messages from mbox files. Files are parsed once and
// re-read when their modification time changes.
type Connector struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	files map[string]*parsedFile
}

type parsedFile struct {
	modTime  time.Time
	messages []api.MessageBody
	ids      []string
	index    map[string]int
}

// New returns a Connector reading from cfg.Dir.
func New(cfg Config, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		dir:    cfg.Dir,
		logger: logger.With("component", "mbox"),
		files:  make(map[string]*parsedFile),
	}
}

// Fetch pages through the file newest first. The cursor is an offset.
func (c *Connector) Fetch(_ context.Context, credential string, opts api.FetchOptions) (api.Page, error) {
	f, err := c.load(credential)
	if err != nil {
		return api.Page{}, err
	}

	offset := 0
	if opts.Cursor != "" {
		offset, err = strconv.Atoi(opts.Cursor)
		if err != nil || offset < 0 {
			return api.Page{}, fmt.Errorf("invalid cursor %q", opts.Cursor)
		}
	}

	var selected []string
	for i, id := range f.ids {
		if opts.Since.IsZero() || f.messages[i].ReceivedAt.After(opts.Since) {
			selected = append(selected, id)
		}
	}

	limit := opts.MaxResults
	if limit <= 0 {
		limit = len(selected)
	}

	var page api.Page
	for i := offset; i < len(selected) && len(page.Messages) < limit; i++ {
		page.Messages = append(page.Messages, api.MessageSummary{ID: selected[i]})
	}
	if next := offset + len(page.Messages); next < len(selected) {
		page.NextCursor = strconv.Itoa(next)
	}
	return page, nil
}

// FetchBody returns a parsed message by its ID.
func (c *Connector) FetchBody(_ context.Context, credential, messageID string) (api.MessageBody, error) {
	f, err := c.load(credential)
	if err != nil {
		return api.MessageBody{}, err
	}
	i, ok := f.index[messageID]
	if !ok {
		return api.MessageBody{}, fmt.Errorf("message %s: %w", messageID, api.ErrNotFound)
	}
	return f.messages[i], nil
}

func (c *Connector) path(credential string) (string, error) {
	name := filepath.Base(credential)
	if name != credential || name == "." || name == "" {
		return "", fmt.Errorf("invalid credential reference %q", credential)
	}
	return filepath.Join(c.dir, name+".mbox"), nil
}

func (c *Connector) load(credential string) (*parsedFile, error) {
	path, err := c.path(credential)
	if err != nil {
		return nil, &api.AuthError{At: time.Now(), Err: err}
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &api.AuthError{At: time.Now(), Err: fmt.Errorf("mailbox file %s missing", path)}
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.files[path]; ok && f.modTime.Equal(info.ModTime()) {
		return f, nil
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer fh.Close()

	f, err := c.parse(fh)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f.modTime = info.ModTime()
	c.files[path] = f

	c.logger.Info("loaded mailbox file", "path", path, "messages", len(f.ids))
	return f, nil
}

func (c *Connector) parse(r io.Reader) (*parsedFile, error) {
	type entry struct {
		id   string
		body api.MessageBody
	}

	var entries []entry
	seen := make(map[string]struct{})
	mr := mbox.NewReader(r)
	for n := 0; ; n++ {
		raw, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		data, err := io.ReadAll(raw)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", n, err)
		}
		body, messageID, err := parseMessage(data)
		if err != nil {
			c.logger.Warn("skipping unparseable message", "index", n, "error", err)
			continue
		}

		id := messageKey(messageID, data)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, entry{id: id, body: body})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].body.ReceivedAt.After(entries[j].body.ReceivedAt)
	})

	f := &parsedFile{index: make(map[string]int, len(entries))}
	for i, e := range entries {
		f.ids = append(f.ids, e.id)
		f.messages = append(f.messages, e.body)
		f.index[e.id] = i
	}
	return f, nil
}

// messageKey derives a stable ID from the Message-ID header, or from the raw
// content when the header is missing.
func messageKey(messageID string, raw []byte) string {
	var sum [32]byte
	if messageID != "" {
		sum = sha256.Sum256([]byte(messageID))
	} else {
		sum = sha256.Sum256(raw)
	}
	return hex.EncodeToString(sum[:12])
}
