package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the condition did not hold before the timeout.
var ErrTimeout = errors.New("poll: condition not met before timeout")

// Until evaluates cond every interval until it returns true, the timeout
// elapses or ctx is cancelled. cond is checked once immediately.
func Until(ctx context.Context, interval, timeout time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if cond() {
				return nil
			}
			return ErrTimeout
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}
