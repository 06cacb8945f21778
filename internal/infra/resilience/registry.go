package resilience

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// Policy bundles the resilience objects for one downstream service. The
// composition order callers must use is retry(breaker(limiter(call))):
// admission sits closest to the network, the breaker wraps each admitted
// attempt, retry is outermost.
type Policy struct {
	Limiter *Limiter
	Breaker *Breaker
	Retry   Retry
}

// Options configures a Registry. Zero fields fall back to the defaults
// noted inline.
type Options struct {
	Services []string

	Window        time.Duration // sliding window, default 1m
	MaxRequests   int           // admissions per window, default 10
	QueueCapacity int           // queued calls beyond which enqueue fails, default 25
	DispatchTick  time.Duration // queue drain interval, default 100ms

	FailureThreshold  uint32        // consecutive failures to trip, default 5
	RecoveryTimeout   time.Duration // open → half-open, default 30s
	HalfOpenSuccesses uint32        // successes to close, default 3

	MaxAttempts    int           // retry budget per call, default 3
	RetryBaseDelay time.Duration // linear backoff unit, default 1s
}

// Registry owns one Policy per downstream service plus the shared health
// monitor. It is constructed eagerly at process start and injected into
// every call site; all sessions on the process share it, so one noisy
// session can trip a breaker or exhaust a window for the others. Tests
// build their own registry instead of resetting this one.
type Registry struct {
	policies map[string]*Policy
	monitor  *Monitor
}

// NewRegistry eagerly constructs limiters and breakers for every service.
func NewRegistry(opts Options, logger *zap.Logger) *Registry {
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 10
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 25
	}
	if opts.DispatchTick <= 0 {
		opts.DispatchTick = 100 * time.Millisecond
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = 30 * time.Second
	}
	if opts.HalfOpenSuccesses == 0 {
		opts.HalfOpenSuccesses = 3
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}

	r := &Registry{
		policies: make(map[string]*Policy, len(opts.Services)),
		monitor:  NewMonitor(),
	}
	for _, svc := range opts.Services {
		r.policies[svc] = &Policy{
			Limiter: NewLimiter(svc, opts.Window, opts.MaxRequests, opts.QueueCapacity, opts.DispatchTick, logger),
			Breaker: NewBreaker(svc, opts.FailureThreshold, opts.RecoveryTimeout, opts.HalfOpenSuccesses, logger),
			Retry:   Retry{MaxAttempts: opts.MaxAttempts, BaseDelay: opts.RetryBaseDelay},
		}
	}
	return r
}

// Policy returns the policy for a service.
func (r *Registry) Policy(service string) (*Policy, bool) {
	p, ok := r.policies[service]
	return p, ok
}

// Monitor returns the shared health monitor.
func (r *Registry) Monitor() *Monitor {
	return r.monitor
}

// Services lists the registered service names, sorted.
func (r *Registry) Services() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops every limiter dispatcher.
func (r *Registry) Close() {
	for _, p := range r.policies {
		p.Limiter.Close()
	}
}
