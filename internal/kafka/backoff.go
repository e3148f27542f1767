package kafka

import (
	"context"
	"time"
)

// RetryDelay holds a redelivered task for attempt*backoff before it runs
// again, so the dependency that failed gets time to recover instead of
// burning every attempt back to back. First deliveries (attempt 0) pass
// straight through; a cancelled context cuts the wait short.
func RetryDelay(ctx context.Context, attempt int, backoff time.Duration) {
	if attempt <= 0 || backoff <= 0 {
		return
	}
	t := time.NewTimer(time.Duration(attempt) * backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
