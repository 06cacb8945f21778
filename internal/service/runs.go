package service

import (
	"context"
	"sync"
)

// RunTable tracks in-flight runs so an explicit cancel request can reach
// the matching context. Run IDs are client-generated, which lets the UI
// issue a cancel before the send request has even returned. Entries are
// keyed by owner as well as run ID, so a user can only cancel their own
// runs.
type RunTable struct {
	mu   sync.Mutex
	runs map[runKey]context.CancelFunc
}

type runKey struct {
	userID string
	runID  string
}

func NewRunTable() *RunTable {
	return &RunTable{runs: make(map[runKey]context.CancelFunc)}
}

// Register derives a cancellable context for the run and remembers its
// cancel func under (userID, runID). The caller must call Remove when the
// run ends.
func (t *RunTable) Register(ctx context.Context, userID, runID string) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.runs[runKey{userID, runID}] = cancel
	t.mu.Unlock()
	return ctx
}

// Cancel aborts the run if it is still in flight and owned by userID.
// Cancelling an unknown, finished, or foreign run is a no-op: the cancel
// endpoint is idempotent.
func (t *RunTable) Cancel(userID, runID string) bool {
	t.mu.Lock()
	cancel, ok := t.runs[runKey{userID, runID}]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Remove releases the run's cancel func.
func (t *RunTable) Remove(userID, runID string) {
	t.mu.Lock()
	cancel, ok := t.runs[runKey{userID, runID}]
	delete(t.runs, runKey{userID, runID})
	t.mu.Unlock()
	if ok {
		cancel()
	}
}

// Active returns the number of in-flight runs.
func (t *RunTable) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}
