// Package fault defines the error taxonomy shared by every inboxd layer.
package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Kind classifies a failure by how callers should react to it.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	AuthRevoked
	Unauthorized
	RateLimited
	Network
	Provider5xx
	Client4xx
	UnsafeBatch
	UserCancelled
	IOError
	// Invalid marks bad arguments or local input, as opposed to a request
	// the provider rejected.
	Invalid
)

var kindNames = map[Kind]string{
	Unknown:       "Unknown",
	NotFound:      "NotFound",
	AuthRevoked:   "AuthRevoked",
	Unauthorized:  "Unauthorized",
	RateLimited:   "RateLimited",
	Network:       "Network",
	Provider5xx:   "Provider5xx",
	Client4xx:     "ProviderClient4xx",
	UnsafeBatch:   "UnsafeBatch",
	UserCancelled: "UserCancelled",
	IOError:       "IOError",
	Invalid:       "InvalidInput",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Retryable reports whether the retry wrapper should try again.
func (k Kind) Retryable() bool {
	switch k {
	case RateLimited, Network, Provider5xx:
		return true
	default:
		return false
	}
}

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an *Error with a formatted message as its cause.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, falling back
// to Classify for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Classify(err)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify maps transport, oauth2 and Gmail API errors onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return AuthRevoked
		}
		if re.Response != nil {
			return fromStatus(re.Response.StatusCode, nil)
		}
		return Client4xx
	}

	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return fromStatus(ge.Code, ge.Errors)
	}

	if errors.Is(err, context.Canceled) {
		return Unknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Network
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Network
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Network
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return Network
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Network
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Network
	}
	return Unknown
}

func fromStatus(code int, items []googleapi.ErrorItem) Kind {
	switch code {
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Provider5xx
	case http.StatusUnauthorized:
		return Unauthorized
	case http.StatusNotFound:
		return NotFound
	case http.StatusForbidden:
		// Gmail reports per-user quota exhaustion as 403.
		for _, item := range items {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return RateLimited
			}
		}
		return Client4xx
	}
	if code >= 400 && code < 500 {
		return Client4xx
	}
	if code >= 500 {
		return Provider5xx
	}
	return Unknown
}
