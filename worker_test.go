package cartsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMutationQueue_RunsInSubmissionOrder(t *testing.T) {
	q := NewMutationQueue(16, zap.NewNop())
	defer q.Shutdown()

	release := make(chan struct{})
	var (
		mu       sync.Mutex
		order    []string
		versions []uint64
	)
	record := func(name string) Mutation {
		return func(_ context.Context, version uint64) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			versions = append(versions, version)
			return nil
		}
	}

	first := q.Submit(context.Background(), "first", func(ctx context.Context, version uint64) error {
		<-release
		return record("first")(ctx, version)
	})
	second := q.Submit(context.Background(), "second", record("second"))
	third := q.Submit(context.Background(), "third", record("third"))

	close(release)
	for _, result := range []<-chan error{first, second, third} {
		require.NoError(t, <-result)
	}

	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, []uint64{1, 2, 3}, versions)
	assert.Equal(t, uint64(3), q.Latest())
}

func TestMutationQueue_ReturnsMutationError(t *testing.T) {
	q := NewMutationQueue(0, zap.NewNop())
	defer q.Shutdown()

	boom := errors.New("boom")
	err := q.Do(context.Background(), "failing", func(context.Context, uint64) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// the worker keeps going after a failure
	err = q.Do(context.Background(), "next", func(context.Context, uint64) error { return nil })
	assert.NoError(t, err)
}

func TestMutationQueue_SkipsCancelledMutation(t *testing.T) {
	q := NewMutationQueue(4, zap.NewNop())
	defer q.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := q.Do(ctx, "cancelled", func(context.Context, uint64) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	// drains the queue behind the cancelled task
	require.NoError(t, q.Do(context.Background(), "barrier", func(context.Context, uint64) error { return nil }))
	assert.False(t, ran)
}

func TestMutationQueue_DoStopsWaitingOnDeadline(t *testing.T) {
	q := NewMutationQueue(4, zap.NewNop())
	defer q.Shutdown()

	release := make(chan struct{})
	q.Submit(context.Background(), "slow", func(context.Context, uint64) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Do(ctx, "waiting", func(context.Context, uint64) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestMutationQueue_DequeuedMutationOutlivesCancelledWait(t *testing.T) {
	q := NewMutationQueue(4, zap.NewNop())
	defer q.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	err := q.Do(ctx, "dequeued", func(context.Context, uint64) error {
		close(started)
		<-release
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, q.Do(context.Background(), "barrier", func(context.Context, uint64) error { return nil }))
	assert.True(t, ran.Load())
}

func TestMutationQueue_Shutdown(t *testing.T) {
	q := NewMutationQueue(4, zap.NewNop())

	done := false
	result := q.Submit(context.Background(), "pending", func(context.Context, uint64) error {
		time.Sleep(10 * time.Millisecond)
		done = true
		return nil
	})

	q.Shutdown()
	assert.True(t, done, "queued mutations finish before shutdown returns")
	assert.NoError(t, <-result)

	err := q.Do(context.Background(), "late", func(context.Context, uint64) error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)

	assert.NotPanics(t, q.Shutdown)
}
