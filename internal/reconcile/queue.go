package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type remoteOp struct {
	name string
	run  func(ctx context.Context) error
}

type flushWaiter struct {
	seq  uint64
	done chan struct{}
}

// remoteQueue runs remote writes one at a time, in the order they were issued, on a
// background goroutine. Enqueueing never blocks; an op that does not fit is dropped and left
// to the pending-set retry at the next refresh.
type remoteQueue struct {
	ops     chan remoteOp
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	closed   bool
	queued   uint64 // ops accepted so far
	finished uint64 // ops run so far; ops finish in queue order
	waiters  []flushWaiter
	done     chan struct{}
}

func newRemoteQueue(timeout time.Duration, logger *slog.Logger) *remoteQueue {
	q := &remoteQueue{
		ops:     make(chan remoteOp, 256),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *remoteQueue) loop() {
	defer close(q.done)
	for op := range q.ops {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := op.run(ctx); err != nil {
			q.logger.Warn("remote write failed; will retry on next refresh", "op", op.name, "error", err)
		}
		cancel()
		q.finish()
	}
}

func (q *remoteQueue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finished++
	kept := q.waiters[:0]
	for _, w := range q.waiters {
		if w.seq <= q.finished {
			close(w.done)
		} else {
			kept = append(kept, w)
		}
	}
	q.waiters = kept
}

func (q *remoteQueue) enqueue(name string, run func(ctx context.Context) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ops <- remoteOp{name: name, run: run}:
		q.queued++
	default:
		q.logger.Warn("remote queue full; deferring to next refresh", "op", name)
	}
}

// flush waits until every op queued before the call has run. Ops queued while it waits do not
// extend the wait.
func (q *remoteQueue) flush(ctx context.Context) error {
	q.mu.Lock()
	if q.finished >= q.queued {
		q.mu.Unlock()
		return nil
	}
	w := flushWaiter{seq: q.queued, done: make(chan struct{})}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *remoteQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ops)
	}
	q.mu.Unlock()
	<-q.done
}
