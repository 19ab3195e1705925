package redisq

import (
	"context"
	"sync"
	"testing"
	"time"

	"filemesh/internal/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []codec.Value
}

func (r *recorder) handle(_ string, v codec.Value) {
	r.mu.Lock()
	r.msgs = append(r.msgs, v)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []codec.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]codec.Value(nil), r.msgs...)
}

func TestPubSubFanOut(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	const subscribers = 3
	recs := make([]*recorder, subscribers)
	for i := range recs {
		ps := NewPubSub(c)
		t.Cleanup(func() { _ = ps.Close() })
		recs[i] = &recorder{}
		require.NoError(t, ps.On(ctx, "events", recs[i].handle))
	}

	pub := NewPubSub(c)
	t.Cleanup(func() { _ = pub.Close() })
	require.NoError(t, pub.Fire(ctx, "events", map[string]int{"n": 1}))
	require.NoError(t, pub.Fire(ctx, "events", map[string]int{"n": 2}))

	for _, r := range recs {
		require.Eventually(t, func() bool { return len(r.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
		got := r.snapshot()
		assert.JSONEq(t, `{"n":1}`, got[0].Raw)
		assert.JSONEq(t, `{"n":2}`, got[1].Raw)
	}
}

func TestPubSubLateSubscriberMisses(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ps := NewPubSub(c)
	t.Cleanup(func() { _ = ps.Close() })

	require.NoError(t, ps.Fire(ctx, "events", "before"))

	rec := &recorder{}
	require.NoError(t, ps.On(ctx, "events", rec.handle))
	require.NoError(t, ps.Fire(ctx, "events", "after"))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "after", got[0].Any())
}

func TestPubSubMultipleCallbacksSameChannel(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ps := NewPubSub(c)
	t.Cleanup(func() { _ = ps.Close() })

	a, b := &recorder{}, &recorder{}
	require.NoError(t, ps.On(ctx, "events", a.handle))
	require.NoError(t, ps.On(ctx, "events", b.handle))
	require.NoError(t, ps.Fire(ctx, "events", 1))

	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 1 && len(b.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPubSubRawPayload(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ps := NewPubSub(c)
	t.Cleanup(func() { _ = ps.Close() })

	rec := &recorder{}
	require.NoError(t, ps.On(ctx, "events", rec.handle))
	require.NoError(t, c.Rdb.Publish(ctx, "events", "plain text").Err())

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := rec.snapshot()[0]
	assert.False(t, got.IsJSON())
	assert.Equal(t, "plain text", got.Raw)
}

func TestPubSubOff(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ps := NewPubSub(c)
	t.Cleanup(func() { _ = ps.Close() })

	rec := &recorder{}
	require.NoError(t, ps.On(ctx, "events", rec.handle))
	require.NoError(t, ps.Off(ctx, "events"))
	require.NoError(t, ps.Fire(ctx, "events", 1))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.NoError(t, ps.Off(ctx, "unknown"))
}

func TestPubSubClosed(t *testing.T) {
	c, _ := newTestClient(t)
	ps := NewPubSub(c)
	require.NoError(t, ps.Close())
	assert.NoError(t, ps.Close())
	assert.ErrorIs(t, ps.On(context.Background(), "events", func(string, codec.Value) {}), ErrClosed)
}
