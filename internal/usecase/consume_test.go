package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"filemesh/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerAcknowledgesByDelete(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")

	got := make(chan domain.Task, 1)
	start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		got <- task
		ready(domain.Result{})
	})

	id, err := r.queue.Push(ctx, "jobs", map[string]int{"foo": 1})
	require.NoError(t, err)

	select {
	case task := <-got:
		assert.Equal(t, id, task.ID)
		assert.JSONEq(t, `{"foo":1}`, task.Data.Raw)
	case <-time.After(3 * time.Second):
		t.Fatal("handler not invoked")
	}

	require.Eventually(t, func() bool {
		_, found, err := r.store.Read(ctx, id)
		return err == nil && !found
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, c.Stats.Processed.Load())
}

func TestConsumerFailureRetainsPayload(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")

	start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		ready(domain.Result{Err: errors.New("boom")})
	})

	id, err := r.queue.Push(ctx, "jobs", "payload")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Stats.Failed.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	v, found, err := r.store.Read(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "payload", v.Any())

	failed, err := r.queue.Failed(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, failed)

	n, err := r.queue.Count(ctx, "jobs")
	require.NoError(t, err)
	assert.Zero(t, n, "failed tasks are not re-appended automatically")
}

func TestConsumerSingleFlight(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")

	var active, maxActive, done atomic.Int32
	start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		// finish asynchronously so the loop has to wait on the ready callback
		go func() {
			time.Sleep(30 * time.Millisecond)
			active.Add(-1)
			done.Add(1)
			ready(domain.Result{})
		}()
	})

	for i := 0; i < 4; i++ {
		_, err := r.queue.Push(ctx, "jobs", i)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return done.Load() == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestConsumerProcessesInOrder(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")

	var pushed []string
	for i := 0; i < 3; i++ {
		id, err := r.queue.Push(ctx, "jobs", i)
		require.NoError(t, err)
		pushed = append(pushed, id)
	}

	var mu sync.Mutex
	var seen []string
	start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		mu.Lock()
		seen = append(seen, task.ID)
		mu.Unlock()
		ready(domain.Result{})
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, pushed, seen)
}

func TestConsumerOrphanedPayload(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")

	var calls atomic.Int32
	start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		calls.Add(1)
		ready(domain.Result{})
	})

	_, err := r.mr.Lpush("jobs", "ghost")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Stats.Orphaned.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, calls.Load())

	dead, err := r.queue.Dead(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, dead)
}

func TestConsumerRetriesFailedRead(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")
	c.Store = &flakyStore{Store: r.store, readFails: 1}

	got := make(chan string, 1)
	start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		got <- task.ID
		ready(domain.Result{})
	})

	id, err := r.queue.Push(ctx, "jobs", 1)
	require.NoError(t, err)

	select {
	case gotID := <-got:
		assert.Equal(t, id, gotID)
	case <-time.After(3 * time.Second):
		t.Fatal("handler not invoked after read error")
	}
	require.Eventually(t, func() bool { return c.Stats.Processed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, c.Stats.Orphaned.Load())

	dead, err := r.queue.Dead(ctx, "jobs")
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestConsumerReturnsUnreadableTaskOnStop(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")
	store := &flakyStore{Store: r.store, readFails: -1}
	c.Store = store

	var calls atomic.Int32
	stop := start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		calls.Add(1)
		ready(domain.Result{})
	})

	id, err := r.queue.Push(ctx, "jobs", 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return store.reads.Load() >= 2 }, 3*time.Second, 5*time.Millisecond)

	require.ErrorIs(t, stop(), context.Canceled)
	assert.Zero(t, calls.Load())
	assert.Zero(t, c.Stats.Orphaned.Load())

	next, err := r.queue.Pop(ctx, "jobs", time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, next)

	_, found, err := r.store.Read(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestConsumerFailedAckIsDeadLettered(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")
	c.Store = &flakyStore{Store: r.store, removeFails: true}

	start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		ready(domain.Result{})
	})

	id, err := r.queue.Push(ctx, "jobs", 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Stats.Processed.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	dead, err := r.queue.Dead(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, dead)
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")

	start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		panic("bad payload")
	})

	id, err := r.queue.Push(ctx, "jobs", 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Stats.Failed.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	_, found, err := r.store.Read(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.StatusRun, c.Status())
}

func TestConsumerReadyTwiceIsIgnored(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")

	start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		ready(domain.Result{})
		ready(domain.Result{Err: errors.New("late")})
	})

	_, err := r.queue.Push(ctx, "jobs", 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Stats.Processed.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, c.Stats.Failed.Load())
}

func TestConsumerStopWaitsForHandler(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	c := r.consumer("jobs")

	entered := make(chan struct{})
	release := make(chan struct{})
	stop := start(t, c, func(ctx context.Context, task domain.Task, ready Ready) {
		close(entered)
		go func() {
			<-release
			ready(domain.Result{})
		}()
	})

	_, err := r.queue.Push(ctx, "jobs", 1)
	require.NoError(t, err)
	<-entered
	require.Equal(t, domain.StatusProcessing, c.Status())

	stopped := make(chan error, 1)
	go func() { stopped <- stop() }()

	select {
	case <-stopped:
		t.Fatal("loop stopped while a task was processing")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		assert.True(t, IsStopped(err))
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not stop after the task finished")
	}
	assert.EqualValues(t, 1, c.Stats.Processed.Load())
}
