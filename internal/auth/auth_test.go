package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"

	"github.com/joshsymonds/inboxd/internal/config"
	"github.com/joshsymonds/inboxd/internal/fault"
)

func TestAccountsPreserveOrder(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, name := range []string{"work", "personal", "side"} {
		if err := s.AddAccount(name, name+"@example.com", Token{RefreshToken: "r-" + name}); err != nil {
			t.Fatalf("AddAccount(%s): %v", name, err)
		}
	}
	if err := s.AddAccount("work", "new@example.com", Token{RefreshToken: "r2"}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	want := []Account{
		{Name: "work", Email: "new@example.com"},
		{Name: "personal", Email: "personal@example.com"},
		{Name: "side", Email: "side@example.com"},
	}
	if diff := cmp.Diff(want, s.ListAccounts()); diff != "" {
		t.Fatalf("accounts mismatch (-want +got):\n%s", diff)
	}
	acct, err := s.Resolve("")
	if err != nil || acct.Name != "work" {
		t.Fatalf("Resolve default = %+v, %v", acct, err)
	}
	if _, err := s.Resolve("nope"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestAddAccountRejectsBadNames(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, name := range []string{"", "../x", "a b", "-lead"} {
		if err := s.AddAccount(name, "x@example.com", Token{}); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestRemoveAccount(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.AddAccount("work", "w@example.com", Token{RefreshToken: "r"}); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if err := os.WriteFile(config.StateFile(dir, "work"), []byte("{}"), 0o600); err != nil {
		t.Fatalf("write state: %v", err)
	}
	if err := s.RemoveAccount("work"); err != nil {
		t.Fatalf("RemoveAccount: %v", err)
	}
	if len(s.ListAccounts()) != 0 {
		t.Fatalf("account still listed")
	}
	if _, ok := s.GetTokens("work"); ok {
		t.Fatalf("token still present")
	}
	if _, err := os.Stat(config.StateFile(dir, "work")); !os.IsNotExist(err) {
		t.Fatalf("state file still present: %v", err)
	}
	if err := s.RemoveAccount("work"); !fault.Is(err, fault.NotFound) {
		t.Fatalf("expected NotFound on second removal, got %v", err)
	}
}

func TestCredentialsParsing(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.LoadCredentials(); !fault.Is(err, fault.NotFound) {
		t.Fatalf("expected NotFound before setup, got %v", err)
	}
	bad := []byte(`{"other":{}}`)
	if err := s.SaveCredentials(bad); err == nil {
		t.Fatal("expected error for credentials without a client")
	}
	good := []byte(`{"installed":{"client_id":"cid","client_secret":"sec","redirect_uris":["http://localhost"]}}`)
	if err := s.SaveCredentials(good); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}
	creds, err := s.LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if creds.ClientID != "cid" || creds.ClientSecret != "sec" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	web := []byte(`{"web":{"client_id":"w","client_secret":"s"}}`)
	if _, err := parseCredentials(web); err != nil {
		t.Fatalf("web credentials: %v", err)
	}
}

func tokenServer(t *testing.T, handler http.HandlerFunc) *oauth2.Config {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &oauth2.Config{
		ClientID:     "cid",
		ClientSecret: "sec",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func TestTokenSourceRefreshesAndPersists(t *testing.T) {
	var hits int32
	cfg := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "r1" {
			t.Errorf("unexpected refresh form %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"a2","token_type":"Bearer","expires_in":3600,"scope":"gmail.modify"}`)
	})
	s := NewStore(t.TempDir())
	expiring := time.Now().Add(time.Minute).UnixMilli()
	if err := s.AddAccount("work", "w@example.com", Token{AccessToken: "a1", RefreshToken: "r1", ExpiryDate: expiring}); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}

	ts := s.TokenSource(context.Background(), cfg, "work", nil)
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "a2" {
		t.Fatalf("access token = %q, want a2", tok.AccessToken)
	}
	stored, ok := s.GetTokens("work")
	if !ok || stored.AccessToken != "a2" || stored.RefreshToken != "r1" || stored.Scope != "gmail.modify" {
		t.Fatalf("stored token not updated: %+v", stored)
	}

	if _, err := ts.Token(); err != nil {
		t.Fatalf("second Token: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected cached token, refresh hits = %d", hits)
	}
	if err := ts.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := ts.Token(); err != nil {
		t.Fatalf("Token after invalidate: %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected forced refresh, hits = %d", hits)
	}
}

func TestTokenSourceOutlivesCreatingContext(t *testing.T) {
	cfg := tokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"a2","token_type":"Bearer","expires_in":3600}`)
	})
	s := NewStore(t.TempDir())
	if err := s.AddAccount("work", "w@example.com", Token{RefreshToken: "r1"}); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ts := s.TokenSource(ctx, cfg, "work", nil)
	cancel()

	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token after creating context ended: %v", err)
	}
	if tok.AccessToken != "a2" {
		t.Fatalf("access token = %q, want a2", tok.AccessToken)
	}
}

func TestTokenSourceInvalidGrantDeletesToken(t *testing.T) {
	cfg := tokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	})
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.AddAccount("work", "w@example.com", Token{RefreshToken: "r1"}); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	_, err := s.TokenSource(context.Background(), cfg, "work", nil).Token()
	if !fault.Is(err, fault.AuthRevoked) {
		t.Fatalf("expected AuthRevoked, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "token-work.json")); !os.IsNotExist(statErr) {
		t.Fatalf("token file not deleted: %v", statErr)
	}
}

func TestTokenSourceMissingToken(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.TokenSource(context.Background(), &oauth2.Config{}, "ghost", nil).Token()
	if !fault.Is(err, fault.AuthRevoked) {
		t.Fatalf("expected AuthRevoked, got %v", err)
	}
}

func TestFlowExchangesCodeWithVerifier(t *testing.T) {
	cfg := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("code") != "the-code" || r.Form.Get("code_verifier") == "" {
			t.Errorf("unexpected exchange form %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"a","refresh_token":"r","token_type":"Bearer","expires_in":3600}`)
	})
	flow := Flow{
		Config: cfg,
		Open: func(authURL string) error {
			u, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			q := u.Query()
			if q.Get("code_challenge_method") != "S256" || q.Get("access_type") != "offline" {
				return fmt.Errorf("unexpected auth url %s", authURL)
			}
			go func() {
				cb := q.Get("redirect_uri") + "?code=the-code&state=" + url.QueryEscape(q.Get("state"))
				resp, err := http.Get(cb) // #nosec G107
				if err == nil {
					_ = resp.Body.Close()
				}
			}()
			return nil
		},
		Timeout: 5 * time.Second,
	}
	tok, err := flow.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tok.RefreshToken != "r" || tok.AccessToken != "a" {
		t.Fatalf("unexpected token %+v", tok)
	}
}
