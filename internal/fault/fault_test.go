package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "429", err: &googleapi.Error{Code: http.StatusTooManyRequests}, want: RateLimited},
		{name: "500", err: &googleapi.Error{Code: 500}, want: Provider5xx},
		{name: "502", err: &googleapi.Error{Code: 502}, want: Provider5xx},
		{name: "503 wrapped", err: fmt.Errorf("trash: %w", &googleapi.Error{Code: 503}), want: Provider5xx},
		{name: "504", err: &googleapi.Error{Code: 504}, want: Provider5xx},
		{name: "400", err: &googleapi.Error{Code: 400}, want: Client4xx},
		{name: "401", err: &googleapi.Error{Code: 401}, want: Unauthorized},
		{name: "403", err: &googleapi.Error{Code: 403}, want: Client4xx},
		{
			name: "403 quota",
			err: &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{
				{Reason: "userRateLimitExceeded"},
			}},
			want: RateLimited,
		},
		{name: "404", err: &googleapi.Error{Code: 404}, want: NotFound},
		{name: "invalid grant", err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, want: AuthRevoked},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "gmail.googleapis.com"}, want: Network},
		{name: "reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), want: Network},
		{name: "deadline", err: context.DeadlineExceeded, want: Network},
		{name: "canceled", err: context.Canceled, want: Unknown},
		{name: "tagged", err: New(UnsafeBatch, "delete", nil), want: UnsafeBatch},
		{name: "plain", err: errors.New("boom"), want: Unknown},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	retryable := map[Kind]bool{RateLimited: true, Network: true, Provider5xx: true}
	for kind := range kindNames {
		if got := kind.Retryable(); got != retryable[kind] {
			t.Fatalf("%s.Retryable() = %v", kind, got)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(AuthRevoked, "token", errors.New("revoked")))
	if !Is(err, AuthRevoked) {
		t.Fatalf("expected AuthRevoked, got %s", KindOf(err))
	}
	if got := err.Error(); got != "outer: token: revoked" {
		t.Fatalf("unexpected message %q", got)
	}
}
