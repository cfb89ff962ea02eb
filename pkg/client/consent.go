package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/oauth2"
)

const (
	// CallbackPort is where the local consent callback server listens.
	CallbackPort = 8085
	callbackPath = "/callback"
	// consentTimeout is how long the user has to finish the browser flow.
	consentTimeout = 5 * time.Minute
)

// Authorize runs the browser consent flow for credentialRef and stores the
// resulting token. Progress messages are written to out.
func (s *Store) Authorize(ctx context.Context, credentialRef string, out io.Writer) error {
	path, err := s.TokenPath(credentialRef)
	if err != nil {
		return err
	}

	config := *s.config
	config.RedirectURL = fmt.Sprintf("http://localhost:%d%s", CallbackPort, callbackPath)

	state, err := randomState()
	if err != nil {
		return fmt.Errorf("generating state token: %w", err)
	}

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	server, err := s.startCallbackServer(ctx, state, codes, errs)
	if err != nil {
		return fmt.Errorf("starting callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("error shutting down callback server", "error", err)
		}
	}()

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "\nOpen this URL to connect %s:\n%s\n\n", credentialRef, authURL)
	if err := openBrowser(ctx, authURL); err != nil {
		s.logger.Debug("could not open browser", "error", err)
	}

	timer := time.NewTimer(consentTimeout)
	defer timer.Stop()

	select {
	case code := <-codes:
		tok, err := config.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("exchanging authorization code: %w", err)
		}
		if err := SaveToken(path, tok); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}
		s.logger.Info("stored credential", "credential_ref", credentialRef, "path", path)
		return nil
	case err := <-errs:
		return fmt.Errorf("oauth callback: %w", err)
	case <-timer.C:
		return fmt.Errorf("consent not completed within %v", consentTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) startCallbackServer(ctx context.Context, state string, codes chan<- string, errs chan<- error) (*http.Server, error) {
	report := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			report(errors.New("invalid state parameter"))
			http.Error(w, "invalid state parameter", http.StatusBadRequest)
			return
		}
		if reason := q.Get("error"); reason != "" {
			report(fmt.Errorf("%s: %s", reason, q.Get("error_description")))
			http.Error(w, "authorization failed: "+reason, http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			report(errors.New("no authorization code received"))
			http.Error(w, "no authorization code received", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Mailbox connected. You can close this window.")
		select {
		case codes <- code:
		default:
		}
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("localhost:%d", CallbackPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("port %d unavailable: %w", CallbackPort, err)
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("callback server error", "error", err)
			report(err)
		}
	}()

	return server, nil
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
