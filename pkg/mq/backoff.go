package mq

import (
	"context"
	"time"
)

// backoff is an exponential retry schedule with a bounded number of attempts.
type backoff struct {
	next    time.Duration
	max     time.Duration
	factor  int
	limit   int
	attempt int
}

func newBackoff(initial, maxDelay time.Duration, limit int) *backoff {
	return &backoff{next: initial, max: maxDelay, factor: backoffMultiplier, limit: limit}
}

// exhausted reports whether every attempt has been spent.
func (b *backoff) exhausted() bool {
	return b.attempt >= b.limit
}

// delay returns the wait before the next attempt and advances the schedule.
func (b *backoff) delay() time.Duration {
	d := b.next
	b.next *= time.Duration(b.factor)
	if b.next > b.max {
		b.next = b.max
	}
	b.attempt++
	return d
}

// sleep waits for the next delay, returning early with an error if ctx is
// cancelled or done is closed.
func (b *backoff) sleep(ctx context.Context, done <-chan struct{}) error {
	t := time.NewTimer(b.delay())
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrShutdown
	case <-t.C:
		return nil
	}
}
