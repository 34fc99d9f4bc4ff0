package worker

import (
	"context"
	"time"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// backoff doubles the wait after each consecutive failure, capped at maxBackoff.
type backoff struct {
	next time.Duration
}

func newBackoff() *backoff {
	return &backoff{next: minBackoff}
}

// wait sleeps for the current delay. It returns false if ctx ended first.
func (b *backoff) wait(ctx context.Context) bool {
	timer := time.NewTimer(b.next)
	defer timer.Stop()

	b.next *= 2
	if b.next > maxBackoff {
		b.next = maxBackoff
	}

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (b *backoff) reset() {
	b.next = minBackoff
}
