package resilience

import (
	"errors"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Breaker is a per-service circuit breaker. It trips OPEN after a run of
// consecutive failures, probes HALF_OPEN after the recovery timeout, and
// closes again after enough consecutive probe successes; one probe failure
// re-opens it. Rejections surface as domain.ErrCircuitOpen without the
// wrapped operation ever being invoked, so callers can tell "unavailable by
// policy" from "call failed".
type Breaker struct {
	service string
	cb      *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker for one service.
func NewBreaker(service string, failureThreshold uint32, recoveryTimeout time.Duration, halfOpenSuccesses uint32, logger *zap.Logger) *Breaker {
	if halfOpenSuccesses == 0 {
		halfOpenSuccesses = 1
	}
	settings := gobreaker.Settings{
		Name:        service,
		MaxRequests: halfOpenSuccesses,
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		// Admission rejections and user aborts say nothing about the
		// downstream service's health, so they must not trip the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var queueFull *domain.ErrQueueFull
			if errors.As(err, &queueFull) {
				return true
			}
			return domain.IsCancelled(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Breaker{service: service, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs op through the breaker.
func (b *Breaker) Execute(op func() (any, error)) (any, error) {
	result, err := b.cb.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &domain.ErrCircuitOpen{Service: b.service}
	}
	return result, err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// StateName returns the state as a lowercase string for API responses.
func (b *Breaker) StateName() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
