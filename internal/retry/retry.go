// Package retry wraps provider calls with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joshsymonds/inboxd/internal/fault"
)

// Policy is the backoff schedule.
type Policy struct {
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
	Jitter      float64
	// Timeout bounds each attempt. Zero disables the per-attempt deadline.
	Timeout time.Duration
}

// DefaultPolicy is 500ms doubling to 30s, five attempts, ±20% jitter and a
// 30s per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		Base:        500 * time.Millisecond,
		Factor:      2,
		Cap:         30 * time.Second,
		MaxAttempts: 5,
		Jitter:      0.2,
		Timeout:     30 * time.Second,
	}
}

// Hooks lets the caller react to specific failures between attempts.
type Hooks struct {
	// OnUnauthorized runs once on the first 401. Returning nil retries the
	// call; returning an error surfaces it.
	OnUnauthorized func(ctx context.Context) error
	Logger         *slog.Logger
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = p.Factor
	b.MaxInterval = p.Cap
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, fails with a non-retryable kind, or the
// attempt budget is spent. The returned error is tagged with a fault.Kind.
func Do(ctx context.Context, p Policy, name string, hooks Hooks, op func(ctx context.Context) error) error {
	logger := hooks.Logger
	if logger == nil {
		logger = slog.Default()
	}
	refreshed := false
	attempt := 0
	operation := func() error {
		attempt++
		err := runAttempt(ctx, p.Timeout, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		kind := fault.Classify(err)
		if kind == fault.Unauthorized {
			if refreshed || hooks.OnUnauthorized == nil {
				return backoff.Permanent(fault.New(fault.AuthRevoked, name, err))
			}
			refreshed = true
			if hookErr := hooks.OnUnauthorized(ctx); hookErr != nil {
				return backoff.Permanent(hookErr)
			}
			return err
		}
		if !kind.Retryable() {
			return backoff.Permanent(tag(kind, name, err))
		}
		return tag(kind, name, err)
	}
	notify := func(err error, wait time.Duration) {
		logger.DebugContext(ctx, "retrying provider call",
			slog.String("op", name),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	}
	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil) {
		return fmt.Errorf("%s: %w", name, err)
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return tag(fault.Classify(err), name, err)
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func tag(kind fault.Kind, name string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.New(kind, name, err)
}
