package schedule

import "sync"

// jobQueue holds at most one pending run of a job.
//
// Triggers that arrive while a run is already pending are coalesced into
// it, so a slow job never builds a backlog: the next run starts as soon as
// the current one ends, and only once.
//
// The signal channel has a buffer of one so the worker can wait on it in a
// select together with ctx.Done.
type jobQueue struct {
	mu        sync.Mutex
	pending   bool
	closed    bool
	coalesced int
	signal    chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{signal: make(chan struct{}, 1)}
}

// Trigger requests a run. It returns false if a run was already pending
// (the request was coalesced) or the queue is closed.
func (q *jobQueue) Trigger() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.pending {
		q.coalesced++
		return false
	}
	q.pending = true

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryTake claims the pending run, if any.
func (q *jobQueue) TryTake() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.pending {
		return false
	}
	q.pending = false
	return true
}

// Wait returns a channel that is signalled when a run may be pending.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Pending reports whether a run is waiting.
func (q *jobQueue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Coalesced returns how many triggers were folded into a pending run.
func (q *jobQueue) Coalesced() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.coalesced
}

// Close rejects further triggers and wakes the worker.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
