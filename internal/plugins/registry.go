// Package plugins provides a registry of mailbox connectors and ledger writers.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/client"
)

// Env carries the shared resources plugins may need. Fields a plugin
// needs but finds nil are reported as configuration errors.
type Env struct {
	// Clients authorizes Google API calls.
	Clients *client.Store
	// Pool is the application database.
	Pool *pgxpool.Pool
}

// MailboxPlugin builds a mailbox connector.
type MailboxPlugin interface {
	// Name is the provider name stored on mail accounts, e.g. "gmail".
	Name() string
	Description() string
	// RequiredScopes returns the OAuth scopes needed by this plugin.
	RequiredScopes() []string
	NewMailbox(ctx context.Context, env Env, config json.RawMessage, logger *slog.Logger) (api.Mailbox, error)
}

// LedgerPlugin builds a ledger writer.
type LedgerPlugin interface {
	Name() string
	Description() string
	RequiredScopes() []string
	NewLedger(ctx context.Context, env Env, config json.RawMessage, logger *slog.Logger) (api.LedgerWriter, error)
}

// Registry manages available mailbox and ledger plugins.
type Registry struct {
	mailboxes map[string]MailboxPlugin
	ledgers   map[string]LedgerPlugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		mailboxes: make(map[string]MailboxPlugin),
		ledgers:   make(map[string]LedgerPlugin),
	}
}

// Default returns a registry with every built-in plugin registered.
func Default() *Registry {
	r := NewRegistry()
	for _, p := range []MailboxPlugin{&GmailPlugin{}, &MboxPlugin{}} {
		_ = r.RegisterMailbox(p)
	}
	for _, p := range []LedgerPlugin{&PostgresLedgerPlugin{}, &SheetsLedgerPlugin{}, &CSVLedgerPlugin{}, &JSONLedgerPlugin{}} {
		_ = r.RegisterLedger(p)
	}
	return r
}

// RegisterMailbox registers a mailbox plugin.
func (r *Registry) RegisterMailbox(p MailboxPlugin) error {
	name := p.Name()
	if _, exists := r.mailboxes[name]; exists {
		return fmt.Errorf("mailbox plugin %q already registered", name)
	}
	r.mailboxes[name] = p
	return nil
}

// RegisterLedger registers a ledger plugin.
func (r *Registry) RegisterLedger(p LedgerPlugin) error {
	name := p.Name()
	if _, exists := r.ledgers[name]; exists {
		return fmt.Errorf("ledger plugin %q already registered", name)
	}
	r.ledgers[name] = p
	return nil
}

// GetMailbox returns a mailbox plugin by name.
func (r *Registry) GetMailbox(name string) (MailboxPlugin, error) {
	p, exists := r.mailboxes[name]
	if !exists {
		return nil, fmt.Errorf("mailbox plugin %q not found", name)
	}
	return p, nil
}

// GetLedger returns a ledger plugin by name.
func (r *Registry) GetLedger(name string) (LedgerPlugin, error) {
	p, exists := r.ledgers[name]
	if !exists {
		return nil, fmt.Errorf("ledger plugin %q not found", name)
	}
	return p, nil
}

// ListMailboxes returns every mailbox plugin sorted by name.
func (r *Registry) ListMailboxes() []MailboxPlugin {
	out := make([]MailboxPlugin, 0, len(r.mailboxes))
	for _, p := range r.mailboxes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ListLedgers returns every ledger plugin sorted by name.
func (r *Registry) ListLedgers() []LedgerPlugin {
	out := make([]LedgerPlugin, 0, len(r.ledgers))
	for _, p := range r.ledgers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// AllScopes returns the deduplicated OAuth scopes needed by the named
// mailbox and ledger plugins.
func (r *Registry) AllScopes(mailboxName, ledgerName string) ([]string, error) {
	mb, err := r.GetMailbox(mailboxName)
	if err != nil {
		return nil, err
	}
	lg, err := r.GetLedger(ledgerName)
	if err != nil {
		return nil, err
	}

	scopes := append(slices.Clone(mb.RequiredScopes()), lg.RequiredScopes()...)
	slices.Sort(scopes)
	return slices.Compact(scopes), nil
}

// CreateMailbox builds a connector from the named plugin.
func (r *Registry) CreateMailbox(ctx context.Context, name string, env Env, config json.RawMessage, logger *slog.Logger) (api.Mailbox, error) {
	p, err := r.GetMailbox(name)
	if err != nil {
		return nil, err
	}
	return p.NewMailbox(ctx, env, config, logger)
}

// CreateLedger builds a writer from the named plugin.
func (r *Registry) CreateLedger(ctx context.Context, name string, env Env, config json.RawMessage, logger *slog.Logger) (api.LedgerWriter, error) {
	p, err := r.GetLedger(name)
	if err != nil {
		return nil, err
	}
	return p.NewLedger(ctx, env, config, logger)
}

// decode unmarshals raw into v, treating empty input as an empty object.
func decode(name string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshaling %s config: %w", name, err)
	}
	return nil
}
