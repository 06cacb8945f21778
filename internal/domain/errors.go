package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the backend. The
// resilience layer classifies by type, never by message text, so every
// failure mode gets its own struct produced at the boundary that owns it.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrQueueFull indicates admission control rejected an enqueue because the
// waiting queue is at capacity. Never retried internally.
type ErrQueueFull struct {
	Service  string
	Capacity int
}

func (e *ErrQueueFull) Error() string {
	return fmt.Sprintf("rate limiter queue full for service %s (capacity %d)", e.Service, e.Capacity)
}

// ErrCircuitOpen indicates the circuit breaker rejected the call by policy,
// without invoking the operation. Distinct from the operation's own errors.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrRetryExhausted wraps the last underlying error after all attempts fail.
type ErrRetryExhausted struct {
	Attempts int
	Err      error
}

func (e *ErrRetryExhausted) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ErrRetryExhausted) Unwrap() error {
	return e.Err
}

// ErrCancelled indicates a user-initiated abort. It always wins over any
// concurrent failure when reporting.
type ErrCancelled struct {
	Err error
}

func (e *ErrCancelled) Error() string {
	return "operation cancelled by caller"
}

func (e *ErrCancelled) Unwrap() error {
	return e.Err
}

// ErrProvider is a failed call to an LLM provider, tagged retryable or not
// at the HTTP boundary from the response status (429/5xx/timeouts are
// retryable; auth, quota and malformed-request classes are not).
type ErrProvider struct {
	Service   string
	Status    int
	Message   string
	Retryable bool
}

func (e *ErrProvider) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s returned status %d: %s", e.Service, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Service, e.Message)
}

// IsCancelled reports whether err is a user-initiated abort.
func IsCancelled(err error) bool {
	var cancelled *ErrCancelled
	return errors.As(err, &cancelled)
}

// IsRetryable reports whether err may be retried. Cancellation, open
// circuits, full queues and non-retryable provider errors are final.
func IsRetryable(err error) bool {
	var (
		cancelled *ErrCancelled
		open      *ErrCircuitOpen
		queueFull *ErrQueueFull
		provider  *ErrProvider
	)
	switch {
	case errors.As(err, &cancelled):
		return false
	case errors.As(err, &open):
		return false
	case errors.As(err, &queueFull):
		return false
	case errors.As(err, &provider):
		return provider.Retryable
	}
	// Unclassified errors (network-level, decode) are treated as transient.
	return true
}
