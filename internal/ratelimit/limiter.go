package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed           bool
	Remaining         int
	RetryAfterSeconds int
}

// Limiter admits or rejects a request for a client key and consumes one slot
// when it admits.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type bucket struct {
	count int
	until time.Time
}

// FixedWindow is an in-process fixed window limiter.
type FixedWindow struct {
	limit int
	per   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	checks  int
}

// NewFixedWindow allows limit requests per key in each window of length per.
func NewFixedWindow(limit int, per time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = 1
	}
	if per <= 0 {
		per = time.Minute
	}
	return &FixedWindow{
		limit:   limit,
		per:     per,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow implements Limiter.
func (l *FixedWindow) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.checks++
	if l.checks%1024 == 0 {
		l.sweepLocked(now)
	}

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.until) {
		b = &bucket{until: now.Add(l.per)}
		l.buckets[key] = b
	}
	if b.count >= l.limit {
		return Decision{Allowed: false, RetryAfterSeconds: retryAfter(b.until.Sub(now))}, nil
	}
	b.count++
	return Decision{Allowed: true, Remaining: l.limit - b.count}, nil
}

func (l *FixedWindow) sweepLocked(now time.Time) {
	for key, b := range l.buckets {
		if !now.Before(b.until) {
			delete(l.buckets, key)
		}
	}
}

// retryAfter rounds a remaining window up to whole seconds, never below one.
func retryAfter(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
