package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/joshsymonds/inboxd/internal/fault"
)

// Flow runs the authorization-code grant with PKCE against a loopback
// redirect listener.
type Flow struct {
	Config *oauth2.Config
	// Open presents the consent URL to the user, typically by launching a
	// browser. When nil the URL is only printed.
	Open func(url string) error
	Out  io.Writer
	// Listen is the loopback address; defaults to 127.0.0.1:0.
	Listen  string
	Timeout time.Duration
}

type callback struct {
	code string
	err  error
}

// Run obtains a token from the user's consent.
func (f Flow) Run(ctx context.Context) (*oauth2.Token, error) {
	if f.Config == nil {
		return nil, errors.New("oauth flow: missing client config")
	}
	addr := f.Listen
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("oauth flow: listen %s: %w", addr, err)
	}

	cfg := *f.Config
	cfg.RedirectURL = fmt.Sprintf("http://%s/callback", ln.Addr().String())
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	results := make(chan callback, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var cb callback
		switch {
		case q.Get("state") != state:
			cb.err = fault.Newf(fault.Invalid, "oauth callback", "state mismatch")
		case q.Get("error") != "":
			cb.err = fault.Newf(fault.UserCancelled, "oauth callback", "consent denied: %s", q.Get("error"))
		case q.Get("code") == "":
			cb.err = fault.Newf(fault.Invalid, "oauth callback", "missing authorization code")
		default:
			cb.code = q.Get("code")
		}
		if cb.err != nil {
			http.Error(w, html.EscapeString(cb.err.Error()), http.StatusBadRequest)
		} else {
			_, _ = io.WriteString(w, "inboxd is authorized. You can close this window.\n")
		}
		select {
		case results <- cb:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier))
	if f.Out != nil {
		fmt.Fprintf(f.Out, "Open this URL to authorize inboxd:\n\n  %s\n\n", authURL)
	}
	if f.Open != nil {
		if openErr := f.Open(authURL); openErr != nil && f.Out != nil {
			fmt.Fprintf(f.Out, "(could not open a browser: %v)\n", openErr)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var cb callback
	select {
	case <-waitCtx.Done():
		return nil, fmt.Errorf("oauth flow: waiting for consent: %w", waitCtx.Err())
	case cb = <-results:
	}
	if cb.err != nil {
		return nil, cb.err
	}
	tok, err := cfg.Exchange(ctx, cb.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fault.New(fault.Classify(err), "oauth exchange", err)
	}
	if tok.RefreshToken == "" {
		return nil, fault.Newf(fault.AuthRevoked, "oauth exchange", "provider returned no refresh token")
	}
	return tok, nil
}
