package client

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

const testSecret = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret",
"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",
"redirect_uris":["http://localhost"]}}`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStoreFromJSON([]byte(testSecret), t.TempDir(), nil, "scope")
	if err != nil {
		t.Fatalf("NewStoreFromJSON: %v", err)
	}
	return s
}

func TestTokenPath(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		ref     string
		wantErr bool
	}{
		{ref: "alice@gmail.com"},
		{ref: "../etc/passwd", wantErr: true},
		{ref: "", wantErr: true},
		{ref: "a/b", wantErr: true},
	}
	for _, tc := range tests {
		path, err := s.TokenPath(tc.ref)
		if (err != nil) != tc.wantErr {
			t.Errorf("TokenPath(%q): got err %v, wantErr %v", tc.ref, err, tc.wantErr)
			continue
		}
		if err == nil && filepath.Dir(path) != s.dir {
			t.Errorf("TokenPath(%q): got %q outside %q", tc.ref, path, s.dir)
		}
	}
}

func TestHTTPClient_NoToken(t *testing.T) {
	s := newTestStore(t)

	_, err := s.HTTPClient(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("got %v, want ErrNoToken", err)
	}
	if s.HasToken("nobody@example.com") {
		t.Error("HasToken: got true, want false")
	}
}

func TestSaveAndLoadToken(t *testing.T) {
	s := newTestStore(t)
	path, err := s.TokenPath("alice@gmail.com")
	if err != nil {
		t.Fatal(err)
	}

	want := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour).Round(time.Second)}
	if err := SaveToken(path, want); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	got, err := TokenFromFile(path)
	if err != nil {
		t.Fatalf("TokenFromFile: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("token: got %+v, want %+v", got, want)
	}

	if _, err := s.HTTPClient(context.Background(), "alice@gmail.com"); err != nil {
		t.Errorf("HTTPClient: %v", err)
	}
	if !s.HasToken("alice@gmail.com") {
		t.Error("HasToken: got false, want true")
	}
}
