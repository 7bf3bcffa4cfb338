// Package auth persists OAuth client credentials, per-account tokens and
// the account directory, and hands out refreshing token sources.
package auth

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/joshsymonds/inboxd/internal/config"
	"github.com/joshsymonds/inboxd/internal/fault"
	"github.com/joshsymonds/inboxd/internal/jsonstore"
)

var accountNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ErrNoAccounts is returned when an operation needs a linked account and
// none exists.
var ErrNoAccounts = errors.New("no accounts linked; run `inboxd auth -a <name>`")

// Account is one linked mailbox.
type Account struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type directory struct {
	Accounts []Account `json:"accounts"`
}

// Token is the on-disk token set for one account.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiryDate   int64  `json:"expiry_date"`
}

// OAuth2 converts to the oauth2 library representation.
func (t Token) OAuth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if t.ExpiryDate > 0 {
		tok.Expiry = time.UnixMilli(t.ExpiryDate)
	}
	return tok
}

// FromOAuth2 converts from the oauth2 library representation.
func FromOAuth2(tok *oauth2.Token) Token {
	out := Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		out.ExpiryDate = tok.Expiry.UnixMilli()
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out
}

// Credentials is the OAuth client registration, in Google's
// client_secret.json shape.
type Credentials struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
	AuthURI      string   `json:"auth_uri,omitempty"`
	TokenURI     string   `json:"token_uri,omitempty"`
}

type credentialsFile struct {
	Installed *Credentials `json:"installed,omitempty"`
	Web       *Credentials `json:"web,omitempty"`
}

// Store owns credentials.json, accounts.json and token-<name>.json.
type Store struct {
	Dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) accountsPath() string    { return filepath.Join(s.Dir, config.AccountsFile) }
func (s *Store) credentialsPath() string { return filepath.Join(s.Dir, config.CredentialsFile) }

// ValidateName checks that name is a usable account slug.
func ValidateName(name string) error {
	if !accountNameRe.MatchString(name) {
		return fault.Newf(fault.Invalid, "account name",
			"invalid account name %q: use letters, digits, '.', '_' or '-'", name)
	}
	return nil
}

// ListAccounts returns linked accounts in insertion order.
func (s *Store) ListAccounts() []Account {
	return jsonstore.Read(s.accountsPath(), directory{}).Accounts
}

// Account looks up a linked account by name.
func (s *Store) Account(name string) (Account, bool) {
	for _, acct := range s.ListAccounts() {
		if acct.Name == name {
			return acct, true
		}
	}
	return Account{}, false
}

// Resolve returns the named account, or the first linked account when name
// is empty.
func (s *Store) Resolve(name string) (Account, error) {
	accounts := s.ListAccounts()
	if len(accounts) == 0 {
		return Account{}, ErrNoAccounts
	}
	if strings.TrimSpace(name) == "" {
		return accounts[0], nil
	}
	for _, acct := range accounts {
		if acct.Name == name {
			return acct, nil
		}
	}
	return Account{}, fault.Newf(fault.NotFound, "resolve account", "unknown account %q", name)
}

// AddAccount saves tok for name and records the account. Re-adding an
// existing name updates its email in place.
func (s *Store) AddAccount(name, email string, tok Token) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := s.SaveTokens(name, tok); err != nil {
		return err
	}
	return jsonstore.Update(s.accountsPath(), directory{}, func(d directory) (directory, error) {
		for i := range d.Accounts {
			if d.Accounts[i].Name == name {
				d.Accounts[i].Email = email
				return d, nil
			}
		}
		d.Accounts = append(d.Accounts, Account{Name: name, Email: email})
		return d, nil
	})
}

// RemoveAccount unlinks name and deletes its token and seen-state files.
func (s *Store) RemoveAccount(name string) error {
	found := false
	err := jsonstore.Update(s.accountsPath(), directory{}, func(d directory) (directory, error) {
		kept := d.Accounts[:0]
		for _, acct := range d.Accounts {
			if acct.Name == name {
				found = true
				continue
			}
			kept = append(kept, acct)
		}
		d.Accounts = kept
		return d, nil
	})
	if err != nil {
		return fault.New(fault.IOError, "remove account", err)
	}
	if !found {
		return fault.Newf(fault.NotFound, "remove account", "unknown account %q", name)
	}
	if err := s.DeleteTokens(name); err != nil {
		return err
	}
	if err := os.Remove(config.StateFile(s.Dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fault.New(fault.IOError, "remove state", err)
	}
	return nil
}

// GetTokens reads the token set for name.
func (s *Store) GetTokens(name string) (Token, bool) {
	tok := jsonstore.Read(config.TokenFile(s.Dir, name), Token{})
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return Token{}, false
	}
	return tok, true
}

// SaveTokens atomically writes the token set for name.
func (s *Store) SaveTokens(name string, tok Token) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	path := config.TokenFile(s.Dir, name)
	unlock, err := jsonstore.Lock(path)
	if err != nil {
		return fault.New(fault.IOError, "save tokens", err)
	}
	defer unlock()
	if err := jsonstore.Write(path, tok); err != nil {
		return fault.New(fault.IOError, "save tokens", err)
	}
	return nil
}

// DeleteTokens removes the token file for name.
func (s *Store) DeleteTokens(name string) error {
	err := os.Remove(config.TokenFile(s.Dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fault.New(fault.IOError, "delete tokens", err)
	}
	return nil
}

// SaveCredentials validates raw client_secret JSON and stores it.
func (s *Store) SaveCredentials(raw []byte) error {
	if _, err := parseCredentials(raw); err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fault.New(fault.Invalid, "save credentials", err)
	}
	if err := jsonstore.Write(s.credentialsPath(), v); err != nil {
		return fault.New(fault.IOError, "save credentials", err)
	}
	return nil
}

// LoadCredentials reads credentials.json.
func (s *Store) LoadCredentials() (Credentials, error) {
	raw, err := os.ReadFile(s.credentialsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, fault.Newf(fault.NotFound, "load credentials",
				"%s not found; run `inboxd setup`", s.credentialsPath())
		}
		return Credentials{}, fault.New(fault.IOError, "load credentials", err)
	}
	return parseCredentials(raw)
}

// OAuthConfig builds the oauth2 client configuration for scopes.
func (s *Store) OAuthConfig(scopes ...string) (*oauth2.Config, error) {
	raw, err := os.ReadFile(s.credentialsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.Newf(fault.NotFound, "oauth config",
				"%s not found; run `inboxd setup`", s.credentialsPath())
		}
		return nil, fault.New(fault.IOError, "oauth config", err)
	}
	cfg, err := google.ConfigFromJSON(raw, scopes...)
	if err != nil {
		return nil, fault.New(fault.Invalid, "oauth config", err)
	}
	return cfg, nil
}

func parseCredentials(raw []byte) (Credentials, error) {
	var f credentialsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return Credentials{}, fault.New(fault.Invalid, "parse credentials", err)
	}
	creds := f.Installed
	if creds == nil {
		creds = f.Web
	}
	if creds == nil || creds.ClientID == "" || creds.ClientSecret == "" {
		return Credentials{}, fault.Newf(fault.Invalid, "parse credentials",
			"credentials must contain an \"installed\" or \"web\" client with client_id and client_secret")
	}
	return *creds, nil
}
