// Package ratelimit paces calls to the summarization provider and retries
// transient failures of the other network calls.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Policy is consulted by the pipeline around every summarization call.
type Policy interface {
	// Wait blocks until the next provider call may start.
	Wait(ctx context.Context) error
	// Cooldown blocks after a per-video failure before the next video starts.
	Cooldown(ctx context.Context, cause error) error
}

// FixedPolicy spaces provider calls at least delay apart and sleeps a fixed
// cooldown after a failure.
type FixedPolicy struct {
	limiter  *rate.Limiter
	cooldown time.Duration
}

var _ Policy = (*FixedPolicy)(nil)

func NewFixedPolicy(delay, cooldown time.Duration) *FixedPolicy {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &FixedPolicy{
		limiter:  rate.NewLimiter(limit, 1),
		cooldown: cooldown,
	}
}

func (p *FixedPolicy) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func (p *FixedPolicy) Cooldown(ctx context.Context, _ error) error {
	return sleep(ctx, p.cooldown)
}

// NoDelay never blocks.
type NoDelay struct{}

var _ Policy = NoDelay{}

func (NoDelay) Wait(ctx context.Context) error { return ctx.Err() }
func (NoDelay) Cooldown(ctx context.Context, _ error) error { return ctx.Err() }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
