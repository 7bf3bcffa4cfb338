package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshsymonds/inboxd/internal/fault"
)

const (
	// RefreshThreshold is how close to expiry a token is refreshed.
	RefreshThreshold = 5 * time.Minute
	// RefreshTimeout bounds a single refresh grant.
	RefreshTimeout = 30 * time.Second
)

// TokenSource serves a persisted account token, refreshing it through the
// refresh grant and writing the result back to the store.
type TokenSource struct {
	ctx     context.Context
	store   *Store
	cfg     *oauth2.Config
	account string
	logger  *slog.Logger
	clock   func() time.Time

	mu      sync.Mutex
	current *oauth2.Token
}

// TokenSource returns a refreshing token source for account. Tokens are
// read from disk on first use. Only the values of ctx are kept; each
// refresh runs under its own RefreshTimeout deadline.
func (s *Store) TokenSource(ctx context.Context, cfg *oauth2.Config, account string, logger *slog.Logger) *TokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSource{
		ctx:     context.WithoutCancel(ctx),
		store:   s,
		cfg:     cfg,
		account: account,
		logger:  logger,
		clock:   time.Now,
	}
}

// Token satisfies oauth2.TokenSource.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.current == nil {
		stored, ok := ts.store.GetTokens(ts.account)
		if !ok {
			return nil, ts.revoked(fmt.Errorf("no token stored"))
		}
		ts.current = stored.OAuth2()
	}
	if ts.current.AccessToken != "" && ts.current.Expiry.Sub(ts.clock()) > RefreshThreshold {
		return ts.current, nil
	}
	if ts.current.RefreshToken == "" {
		return nil, ts.revoked(fmt.Errorf("no refresh token stored"))
	}

	ctx, cancel := context.WithTimeout(ts.ctx, RefreshTimeout)
	defer cancel()
	src := ts.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: ts.current.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		if fault.Classify(err) == fault.AuthRevoked {
			if delErr := ts.store.DeleteTokens(ts.account); delErr != nil {
				ts.logger.Warn("could not delete revoked token", "account", ts.account, "error", delErr)
			}
			ts.current = nil
			return nil, ts.revoked(err)
		}
		return nil, fmt.Errorf("refresh token for %s: %w", ts.account, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = ts.current.RefreshToken
	}
	stored := FromOAuth2(fresh)
	if stored.Scope == "" {
		if prev, ok := ts.store.GetTokens(ts.account); ok {
			stored.Scope = prev.Scope
		}
	}
	if err := ts.store.SaveTokens(ts.account, stored); err != nil {
		return nil, err
	}
	ts.logger.Debug("refreshed access token", "account", ts.account)
	ts.current = fresh
	return fresh, nil
}

// Invalidate forces the next Token call to refresh.
func (ts *TokenSource) Invalidate(context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.current != nil {
		stale := *ts.current
		stale.AccessToken = ""
		ts.current = &stale
	}
	return nil
}

func (ts *TokenSource) revoked(err error) error {
	return fault.New(fault.AuthRevoked, "auth",
		fmt.Errorf("credentials for account %q are no longer valid (%v); re-run `inboxd auth -a %s`",
			ts.account, err, ts.account))
}

var _ oauth2.TokenSource = (*TokenSource)(nil)
