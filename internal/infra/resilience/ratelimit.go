// Package resilience provides the fault-tolerance layer used to call the
// LLM providers: sliding-window rate limiting with a priority queue,
// per-service circuit breaking, bounded retry and rolling health telemetry,
// all assembled into an explicit per-process Registry.
package resilience

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"go.uber.org/zap"
)

// Limiter is a sliding-window-log admission controller for one downstream
// service. A call runs immediately when the window has a free slot and
// nothing is queued; otherwise it waits in a priority queue drained by a
// ticker-driven dispatcher as slots free up. Admission counts attempts:
// a consumed slot stays consumed even when the wrapped call fails.
type Limiter struct {
	service  string
	window   time.Duration
	maxReq   int
	queueCap int
	tick     time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	stamps []time.Time
	queue  waiterQueue
	seq    uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a limiter and starts its dispatcher goroutine.
// Call Close to stop it.
func NewLimiter(service string, window time.Duration, maxRequests, queueCapacity int, tick time.Duration, logger *zap.Logger) *Limiter {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	l := &Limiter{
		service:  service,
		window:   window,
		maxReq:   maxRequests,
		queueCap: queueCapacity,
		tick:     tick,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go l.dispatch()
	return l
}

// Do runs fn under admission control. fn is invoked at most once. Higher
// priority waiters run first; equal priorities are FIFO. Returns
// ErrQueueFull without queueing when the queue is at capacity, and
// ErrCancelled when ctx is done before admission.
func (l *Limiter) Do(ctx context.Context, priority int, fn func(context.Context) error) error {
	l.mu.Lock()
	now := time.Now()
	l.prune(now)

	if l.queue.Len() == 0 && len(l.stamps) < l.maxReq {
		l.stamps = append(l.stamps, now)
		l.mu.Unlock()
		return fn(ctx)
	}

	if l.queue.Len() >= l.queueCap {
		l.mu.Unlock()
		return &domain.ErrQueueFull{Service: l.service, Capacity: l.queueCap}
	}

	w := &waiter{
		priority: priority,
		seq:      l.seq,
		grant:    make(chan struct{}),
		done:     ctx.Done(),
	}
	l.seq++
	heap.Push(&l.queue, w)
	depth := l.queue.Len()
	l.mu.Unlock()

	l.logger.Debug("rate limiter queued call",
		zap.String("service", l.service),
		zap.Int("priority", priority),
		zap.Int("queue_depth", depth),
	)

	select {
	case <-w.grant:
		return fn(ctx)
	case <-ctx.Done():
		return &domain.ErrCancelled{Err: ctx.Err()}
	}
}

// Depth returns the current number of queued waiters.
func (l *Limiter) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.Len()
}

// Close stops the dispatcher. Queued waiters stop being granted; their
// contexts should be cancelled by the caller on shutdown.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// prune drops admission stamps older than the window. Caller holds l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// dispatch grants queued waiters whenever the window has spare capacity.
func (l *Limiter) dispatch() {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			l.prune(now)
			for l.queue.Len() > 0 && len(l.stamps) < l.maxReq {
				w := heap.Pop(&l.queue).(*waiter)
				if w.abandoned() {
					continue // caller gave up while queued; no slot consumed
				}
				l.stamps = append(l.stamps, now)
				close(w.grant)
			}
			l.mu.Unlock()
		}
	}
}

// waiter is one queued call awaiting admission.
type waiter struct {
	priority int
	seq      uint64
	grant    chan struct{}
	done     <-chan struct{}
}

func (w *waiter) abandoned() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// waiterQueue is a max-heap on priority; ties break FIFO by sequence.
type waiterQueue []*waiter

func (q waiterQueue) Len() int { return len(q) }

func (q waiterQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waiterQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *waiterQueue) Push(x any) { *q = append(*q, x.(*waiter)) }

func (q *waiterQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return w
}
