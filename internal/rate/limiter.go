// Package rate paces outbound Gmail calls against the per-user quota.
package rate

import (
	"context"
	"fmt"

	xrate "golang.org/x/time/rate"
)

// Gmail quota units per method.
// See https://developers.google.com/gmail/api/reference/quota
const (
	UnitsMessagesList   = 5
	UnitsMessagesGet    = 5
	UnitsMessagesSend   = 100
	UnitsMessagesTrash  = 5
	UnitsMessagesModify = 5
	UnitsLabelsGet      = 1
	UnitsGetProfile     = 1

	quotaUnitsPerSecond = 250
)

// Limiter gates outbound API calls so we respect Gmail rate limits.
type Limiter interface {
	WaitN(ctx context.Context, units int) error
}

// Quota is a token bucket denominated in quota units.
type Quota struct {
	l *xrate.Limiter
}

// NewQuota returns a limiter releasing unitsPerSecond quota units each
// second, with a burst of one second's worth. Values outside (0, 250] are
// clamped to 80% of Gmail's per-user ceiling.
func NewQuota(unitsPerSecond int) *Quota {
	if unitsPerSecond <= 0 || unitsPerSecond > quotaUnitsPerSecond {
		unitsPerSecond = quotaUnitsPerSecond * 4 / 5
	}
	burst := unitsPerSecond
	if burst < UnitsMessagesSend {
		burst = UnitsMessagesSend
	}
	return &Quota{l: xrate.NewLimiter(xrate.Limit(unitsPerSecond), burst)}
}

// WaitN blocks until units are available or the context is canceled.
func (q *Quota) WaitN(ctx context.Context, units int) error {
	if err := q.l.WaitN(ctx, units); err != nil {
		return fmt.Errorf("rate wait canceled: %w", err)
	}
	return nil
}

// Unlimited never blocks.
type Unlimited struct{}

// WaitN returns immediately unless ctx is already done.
func (Unlimited) WaitN(ctx context.Context, _ int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate wait canceled: %w", err)
	}
	return nil
}

var (
	_ Limiter = (*Quota)(nil)
	_ Limiter = Unlimited{}
)
