package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// pollBackOff grows from PollInitial by PollMultiplier up to PollMax and
// stops once ctx is done. Delays are not jittered.
func pollBackOff(ctx context.Context, cfg Config) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.PollInitial,
		RandomizationFactor: 0,
		Multiplier:          cfg.PollMultiplier,
		MaxInterval:         cfg.PollMax,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// submitBackOff yields base, 2*base, 4*base, ... for resubmissions after a
// transient error. The segment attempt budget bounds the sequence.
func submitBackOff(base time.Duration, attempts int) backoff.BackOff {
	if base <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         base << max(attempts, 1),
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
