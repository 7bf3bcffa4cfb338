package runtime

import (
	"context"
	"io"
	"log/slog"
	"os"

	gm "google.golang.org/api/gmail/v1"

	"github.com/joshsymonds/inboxd/internal/auth"
	"github.com/joshsymonds/inboxd/internal/config"
	"github.com/joshsymonds/inboxd/internal/rate"
	"github.com/joshsymonds/inboxd/internal/retry"
)

// Scopes requested at consent. Modify covers read, label changes, trash
// and send.
var Scopes = []string{gm.GmailModifyScope}

// NewProvider wires the stored OAuth client and per-account tokens into a
// Provider paced and retried per settings.
func NewProvider(store *auth.Store, settings config.Settings, logger *slog.Logger) (*Provider, error) {
	cfg, err := store.OAuthConfig(Scopes...)
	if err != nil {
		return nil, err
	}
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = settings.Retry.MaxAttempts
	policy.Timeout = settings.Request.Timeout
	return &Provider{
		Sources: func(ctx context.Context, account string) (TokenSource, error) {
			if _, err := store.Resolve(account); err != nil {
				return nil, err
			}
			return store.TokenSource(ctx, cfg, account, logger), nil
		},
		Limiter: rate.NewQuota(settings.Rate.UnitsPerSecond),
		Policy:  policy,
		Logger:  logger,
	}, nil
}

// DefaultLogger writes text logs to stderr; verbose enables debug output.
func DefaultLogger(verbose bool) *slog.Logger {
	return NewLogger(os.Stderr, verbose)
}

// NewLogger writes text logs to w.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
