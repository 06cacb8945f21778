package resilience

import (
	"context"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
)

// Retry executes an operation with bounded attempts and linear backoff
// (attempt * BaseDelay between attempts). Classification is by error type:
// cancellation always wins and is never retried; non-retryable provider
// errors and open-circuit rejections are rethrown immediately without
// consuming the remaining budget.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do runs fn until it succeeds, fails terminally, or the budget runs out.
// Exhaustion wraps the last error in domain.ErrRetryExhausted.
func (r Retry) Do(ctx context.Context, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &domain.ErrCancelled{Err: err}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if domain.IsCancelled(lastErr) {
			return lastErr
		}
		if err := ctx.Err(); err != nil {
			return &domain.ErrCancelled{Err: err}
		}
		if !domain.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return &domain.ErrCancelled{Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * r.BaseDelay):
			}
		}
	}

	return &domain.ErrRetryExhausted{Attempts: attempts, Err: lastErr}
}
