package cartsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("mutation queue is closed")

// Mutation runs with the version assigned at submission time.
type Mutation func(ctx context.Context, version uint64) error

type task struct {
	ctx     context.Context
	name    string
	version uint64
	fn      Mutation
	result  chan error
}

// MutationQueue runs cart mutations one at a time, in submission order.
type MutationQueue struct {
	mu      sync.RWMutex
	closed  bool
	tasks   chan task
	done    chan struct{}
	version atomic.Uint64
	logger  *zap.Logger
}

func NewMutationQueue(buffer int, logger *zap.Logger) *MutationQueue {
	if buffer <= 0 {
		buffer = 64
	}
	q := &MutationQueue{
		tasks:  make(chan task, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}

	go q.worker()

	return q
}

func (q *MutationQueue) worker() {
	defer close(q.done)
	for t := range q.tasks {
		if err := t.ctx.Err(); err != nil {
			q.logger.Debug("Skipping cancelled mutation",
				zap.String("mutation", t.name),
				zap.Uint64("version", t.version))
			t.result <- err
			continue
		}

		err := t.fn(t.ctx, t.version)
		if err != nil {
			q.logger.Debug("Mutation failed",
				zap.String("mutation", t.name),
				zap.Uint64("version", t.version),
				zap.Error(err))
		}
		t.result <- err
	}
}

// Submit enqueues fn and returns a channel that receives its result once.
func (q *MutationQueue) Submit(ctx context.Context, name string, fn Mutation) <-chan error {
	result := make(chan error, 1)

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		result <- ErrQueueClosed
		return result
	}

	t := task{
		ctx:     ctx,
		name:    name,
		version: q.version.Add(1),
		fn:      fn,
		result:  result,
	}
	select {
	case q.tasks <- t:
	case <-ctx.Done():
		result <- ctx.Err()
	}
	return result
}

// Do submits fn and waits for it. A cancelled ctx stops the wait and returns
// ctx.Err(). If the mutation was already dequeued by then it may still be
// running or may have finished, so the caller can not tell whether it took
// effect; the mutation itself observes the same ctx.
func (q *MutationQueue) Do(ctx context.Context, name string, fn Mutation) error {
	select {
	case err := <-q.Submit(ctx, name, fn):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest is the most recently assigned version.
func (q *MutationQueue) Latest() uint64 {
	return q.version.Load()
}

// Shutdown stops accepting mutations and waits for queued ones to finish.
func (q *MutationQueue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	<-q.done
}
