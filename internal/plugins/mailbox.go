package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/mailbox/gmail"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/mailbox/mbox"
)

// GmailPlugin reads mail through the Gmail API.
type GmailPlugin struct{}

func (p *GmailPlugin) Name() string { return "gmail" }

func (p *GmailPlugin) Description() string {
	return "Read messages from Gmail with per-account OAuth tokens"
}

func (p *GmailPlugin) RequiredScopes() []string { return gmail.Scopes }

// GmailConfig is the JSON configuration of the gmail plugin.
type GmailConfig struct {
	// Query narrows every listing, e.g. "-category:promotions".
	Query string `json:"query"`
}

func (p *GmailPlugin) NewMailbox(_ context.Context, env Env, config json.RawMessage, logger *slog.Logger) (api.Mailbox, error) {
	var cfg GmailConfig
	if err := decode(p.Name(), config, &cfg); err != nil {
		return nil, err
	}
	if env.Clients == nil {
		return nil, errors.New("gmail plugin needs an OAuth client store")
	}
	return gmail.New(gmail.FromClientStore(env.Clients), gmail.Config{Query: cfg.Query}, logger), nil
}

// MboxPlugin reads exported mbox files from a directory.
type MboxPlugin struct{}

func (p *MboxPlugin) Name() string { return "mbox" }

func (p *MboxPlugin) Description() string {
	return "Read messages from <dir>/<credential>.mbox files"
}

func (p *MboxPlugin) RequiredScopes() []string { return nil }

// MboxConfig is the JSON configuration of the mbox plugin.
type MboxConfig struct {
	Dir string `json:"dir"`
}

func (p *MboxPlugin) NewMailbox(_ context.Context, _ Env, config json.RawMessage, logger *slog.Logger) (api.Mailbox, error) {
	var cfg MboxConfig
	if err := decode(p.Name(), config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return nil, errors.New("dir is required")
	}
	return mbox.New(mbox.Config{Dir: cfg.Dir}, logger), nil
}
