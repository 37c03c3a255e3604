package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 2)
	q := NewQueue("reports", func(ctx context.Context, job Job) error {
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "evaluations"}))
	require.NoError(t, q.Enqueue(Job{ID: "job-2", Type: "template_summary"}))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.Equal(t, map[string]bool{"job-1": true, "job-2": true}, seen)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	finished := make(chan int, 1)
	q := NewQueue("reports", func(ctx context.Context, job Job) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errors.New("render failed")
		}
		finished <- job.Attempt
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1"}))
	select {
	case attempt := <-finished:
		assert.Equal(t, 2, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("reports", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.ErrorIs(t, q.Enqueue(Job{ID: "job-1"}), ErrNotStarted)
}

func TestQueueEnqueueAfterStop(t *testing.T) {
	q := NewQueue("reports", func(ctx context.Context, job Job) error { return nil }, QueueConfig{BufferSize: 1})
	q.Start(context.Background())
	q.Stop()
	q.Stop()
	assert.ErrorIs(t, q.Enqueue(Job{ID: "job-1"}), ErrStopped)
}

func TestQueueEnqueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("reports", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1, EnqueueTimeout: 10 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()
	defer close(release)

	require.NoError(t, q.Enqueue(Job{ID: "busy"}))
	<-started
	require.NoError(t, q.Enqueue(Job{ID: "buffered"}))
	assert.ErrorIs(t, q.Enqueue(Job{ID: "overflow"}), ErrFull)

	stats := q.Stats()
	assert.Equal(t, 1, stats.Pending)
	assert.EqualValues(t, 1, stats.InFlight)
}

func TestQueueSurvivesPanics(t *testing.T) {
	done := make(chan struct{})
	var calls int32
	q := NewQueue("reports", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("nil template")
		}
		close(done)
		return nil
	}, QueueConfig{RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job not retried after panic")
	}
	assert.Eventually(t, func() bool { return q.Stats().Succeeded == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, q.Stats().Retried)
}

func TestQueueDropsAfterMaxRetries(t *testing.T) {
	q := NewQueue("reports", func(ctx context.Context, job Job) error {
		return errors.New("template missing")
	}, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1"}))
	assert.Eventually(t, func() bool { return q.Stats().Dropped == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, q.Stats().Retried)
}

func TestQueueBackoff(t *testing.T) {
	q := NewQueue("reports", nil, QueueConfig{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second})
	assert.Equal(t, time.Second, q.backoff(1))
	assert.Equal(t, 2*time.Second, q.backoff(2))
	assert.Equal(t, 4*time.Second, q.backoff(3))
	assert.Equal(t, 5*time.Second, q.backoff(4))
	assert.Equal(t, 5*time.Second, q.backoff(10))
}
