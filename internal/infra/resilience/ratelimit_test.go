package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/infra/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, window time.Duration, maxReq, queueCap int) *resilience.Limiter {
	t.Helper()
	l := resilience.NewLimiter("test", window, maxReq, queueCap, 10*time.Millisecond, zap.NewNop())
	t.Cleanup(l.Close)
	return l
}

func TestLimiter_RunsImmediatelyWithFreeWindow(t *testing.T) {
	l := newTestLimiter(t, time.Second, 2, 5)

	ran := false
	err := l.Do(context.Background(), 0, func(context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestLimiter_AdmissionCapWithinWindow(t *testing.T) {
	const window = 300 * time.Millisecond
	l := newTestLimiter(t, window, 2, 10)

	var (
		mu         sync.Mutex
		admissions []time.Time
	)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), 0, func(context.Context) error {
				mu.Lock()
				admissions = append(admissions, time.Now())
				mu.Unlock()
				return nil
			})
		}()
		time.Sleep(5 * time.Millisecond) // stable enqueue order
	}
	wg.Wait()

	require.Len(t, admissions, 5)
	// At most 2 admissions inside any rolling window: the i-th and (i+2)-th
	// admission must be at least one window apart (minus dispatcher slack).
	for i := 0; i+2 < len(admissions); i++ {
		gap := admissions[i+2].Sub(admissions[i])
		assert.GreaterOrEqual(t, gap, window-50*time.Millisecond,
			"admissions %d and %d too close: %v", i, i+2, gap)
	}
}

func TestLimiter_PriorityOrder(t *testing.T) {
	l := newTestLimiter(t, 250*time.Millisecond, 2, 10)

	// Exhaust the window so the next three calls must queue. The pause
	// staggers the slot expirations, so waiters are granted one per tick
	// and the completion order is deterministic.
	for i := 0; i < 2; i++ {
		require.NoError(t, l.Do(context.Background(), 0, func(context.Context) error { return nil }))
		time.Sleep(40 * time.Millisecond)
	}

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	enqueue := func(name string, priority, wantDepth int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), priority, func(context.Context) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			})
		}()
		require.Eventually(t, func() bool { return l.Depth() == wantDepth },
			time.Second, time.Millisecond)
	}

	enqueue("task1", 0, 1)
	enqueue("task2", 0, 2)
	enqueue("task3", 5, 3)
	wg.Wait()

	assert.Equal(t, []string{"task3", "task1", "task2"}, order)
}

func TestLimiter_QueueFull(t *testing.T) {
	l := newTestLimiter(t, 5*time.Second, 1, 1)

	// Consume the only window slot.
	require.NoError(t, l.Do(context.Background(), 0, func(context.Context) error { return nil }))

	queuedCtx, cancelQueued := context.WithCancel(context.Background())
	defer cancelQueued()
	go func() {
		_ = l.Do(queuedCtx, 0, func(context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return l.Depth() == 1 }, time.Second, time.Millisecond)

	err := l.Do(context.Background(), 0, func(context.Context) error { return nil })

	var queueFull *domain.ErrQueueFull
	require.ErrorAs(t, err, &queueFull)
	assert.Equal(t, "test", queueFull.Service)
}

func TestLimiter_CancelWhileQueued(t *testing.T) {
	l := newTestLimiter(t, 5*time.Second, 1, 5)

	require.NoError(t, l.Do(context.Background(), 0, func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	invoked := false
	go func() {
		errCh <- l.Do(ctx, 0, func(context.Context) error {
			invoked = true
			return nil
		})
	}()
	require.Eventually(t, func() bool { return l.Depth() == 1 }, time.Second, time.Millisecond)

	cancel()

	err := <-errCh
	var cancelled *domain.ErrCancelled
	require.ErrorAs(t, err, &cancelled)
	assert.False(t, invoked, "cancelled waiter's task must never run")
}

func TestLimiter_FailedCallStillConsumesSlot(t *testing.T) {
	l := newTestLimiter(t, 5*time.Second, 1, 5)

	taskErr := errors.New("task exploded")
	err := l.Do(context.Background(), 0, func(context.Context) error { return taskErr })
	require.ErrorIs(t, err, taskErr)

	// The failed attempt used up the window, so the next call has to queue
	// and times out instead of running immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = l.Do(ctx, 0, func(context.Context) error { return nil })

	var cancelled *domain.ErrCancelled
	require.ErrorAs(t, err, &cancelled)
}
