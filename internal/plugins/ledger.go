package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
	csvledger "github.com/Subhangi-2216/KharchaNepal-sub000/pkg/ledger/csv"
	jsonledger "github.com/Subhangi-2216/KharchaNepal-sub000/pkg/ledger/json"
	pgledger "github.com/Subhangi-2216/KharchaNepal-sub000/pkg/ledger/postgres"
	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/ledger/sheets"
)

// PostgresLedgerPlugin books expenses into the application database.
type PostgresLedgerPlugin struct{}

func (p *PostgresLedgerPlugin) Name() string { return "postgres" }

func (p *PostgresLedgerPlugin) Description() string {
	return "Write approved expenses to the ledger_entries table"
}

func (p *PostgresLedgerPlugin) RequiredScopes() []string { return nil }

func (p *PostgresLedgerPlugin) NewLedger(ctx context.Context, env Env, _ json.RawMessage, logger *slog.Logger) (api.LedgerWriter, error) {
	if env.Pool == nil {
		return nil, errors.New("postgres ledger needs a database pool")
	}
	return pgledger.New(ctx, env.Pool, logger)
}

// SheetsLedgerPlugin appends expenses to a Google Sheet.
type SheetsLedgerPlugin struct{}

func (p *SheetsLedgerPlugin) Name() string { return "sheets" }

func (p *SheetsLedgerPlugin) Description() string {
	return "Append approved expenses to a Google Sheet"
}

func (p *SheetsLedgerPlugin) RequiredScopes() []string { return sheets.Scopes }

// SheetsConfig is the JSON configuration of the sheets plugin.
type SheetsConfig struct {
	sheets.Config
	// Credential is the token the ledger writes with.
	Credential string `json:"credential"`
}

func (p *SheetsLedgerPlugin) NewLedger(ctx context.Context, env Env, config json.RawMessage, logger *slog.Logger) (api.LedgerWriter, error) {
	var cfg SheetsConfig
	if err := decode(p.Name(), config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Credential == "" {
		return nil, errors.New("credential is required")
	}
	if cfg.SheetID == "" && cfg.SheetTitle == "" {
		return nil, errors.New("either sheet_id or sheet_title is required")
	}
	if env.Clients == nil {
		return nil, errors.New("sheets ledger needs an OAuth client store")
	}

	httpClient, err := env.Clients.HTTPClient(ctx, cfg.Credential)
	if err != nil {
		return nil, fmt.Errorf("authorizing sheets ledger: %w", err)
	}
	return sheets.New(ctx, httpClient, cfg.Config, logger)
}

// CSVLedgerPlugin appends expenses to a local CSV file.
type CSVLedgerPlugin struct{}

func (p *CSVLedgerPlugin) Name() string { return "csv" }

func (p *CSVLedgerPlugin) Description() string {
	return "Append approved expenses to a CSV file"
}

func (p *CSVLedgerPlugin) RequiredScopes() []string { return nil }

// CSVConfig is the JSON configuration of the csv and json plugins.
type CSVConfig struct {
	FilePath string `json:"file_path"`
}

func (p *CSVLedgerPlugin) NewLedger(_ context.Context, _ Env, config json.RawMessage, logger *slog.Logger) (api.LedgerWriter, error) {
	var cfg CSVConfig
	if err := decode(p.Name(), config, &cfg); err != nil {
		return nil, err
	}
	if cfg.FilePath == "" {
		return nil, errors.New("file_path is required")
	}
	return csvledger.New(csvledger.Config{FilePath: cfg.FilePath}, logger)
}

// JSONLedgerPlugin keeps expenses in a local JSON file.
type JSONLedgerPlugin struct{}

func (p *JSONLedgerPlugin) Name() string { return "json" }

func (p *JSONLedgerPlugin) Description() string {
	return "Keep approved expenses in a JSON file"
}

func (p *JSONLedgerPlugin) RequiredScopes() []string { return nil }

func (p *JSONLedgerPlugin) NewLedger(_ context.Context, _ Env, config json.RawMessage, logger *slog.Logger) (api.LedgerWriter, error) {
	var cfg CSVConfig
	if err := decode(p.Name(), config, &cfg); err != nil {
		return nil, err
	}
	if cfg.FilePath == "" {
		return nil, errors.New("file_path is required")
	}
	return jsonledger.New(jsonledger.Config{FilePath: cfg.FilePath}, logger)
}
