// Package client builds OAuth2 HTTP clients for Google APIs from stored credentials.
//
// A credential reference names a token file inside the token directory. Tokens
// refreshed while in use are written back so the next process starts with them.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrNoToken is returned when no token has been stored for a credential reference.
var ErrNoToken = errors.New("no stored token")

// Store resolves credential references to authorized HTTP clients.
type Store struct {
	config *oauth2.Config
	dir    string
	logger *slog.Logger
}

// NewStore reads the OAuth client secret and returns a Store keeping tokens in tokenDir.
func NewStore(secretFilePath, tokenDir string, logger *slog.Logger, scopes ...string) (*Store, error) {
	b, err := os.ReadFile(secretFilePath)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}
	return NewStoreFromJSON(b, tokenDir, logger, scopes...)
}

// NewStoreFromJSON is NewStore with the client secret already in memory.
func NewStoreFromJSON(secretJSON []byte, tokenDir string, logger *slog.Logger, scopes ...string) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	config, err := google.ConfigFromJSON(secretJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}
	return &Store{config: config, dir: tokenDir, logger: logger.With("component", "oauth")}, nil
}

// HTTPClient returns a client for the credential. It fails with ErrNoToken when
// the user has never authorized it.
func (s *Store) HTTPClient(ctx context.Context, credentialRef string) (*http.Client, error) {
	path, err := s.TokenPath(credentialRef)
	if err != nil {
		return nil, err
	}
	tok, err := TokenFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("credential %q: %w", credentialRef, ErrNoToken)
	}
	if err != nil {
		return nil, fmt.Errorf("loading token for %q: %w", credentialRef, err)
	}

	src := &savingSource{
		base:   s.config.TokenSource(ctx, tok),
		path:   path,
		last:   tok.AccessToken,
		logger: s.logger,
	}
	return oauth2.NewClient(ctx, src), nil
}

// HasToken reports whether a token is stored for the credential.
func (s *Store) HasToken(credentialRef string) bool {
	path, err := s.TokenPath(credentialRef)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// TokenPath maps a credential reference to its token file.
func (s *Store) TokenPath(credentialRef string) (string, error) {
	name := filepath.Base(strings.TrimSpace(credentialRef))
	if name == "" || name == "." || name == string(filepath.Separator) || name != credentialRef {
		return "", fmt.Errorf("invalid credential reference %q", credentialRef)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// savingSource persists tokens whenever the underlying source refreshes.
type savingSource struct {
	base   oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Warn("failed to persist refreshed token", "path", s.path, "error", err)
		}
	}
	return tok, nil
}

// TokenFromFile retrieves a token from a local file.
func TokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return tok, nil
}

// SaveToken writes a token with owner-only permissions, creating the directory if needed.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return nil
}
