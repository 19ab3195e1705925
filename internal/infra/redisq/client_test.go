package redisq

import (
	"context"
	"testing"
	"time"

	"filemesh/internal/config"
	"filemesh/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientStatusFollowsConnection(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	assert.Equal(t, domain.StatusRunning, c.Status())
	require.NoError(t, c.Init(ctx, 10*time.Millisecond, 50*time.Millisecond))
	assert.Equal(t, domain.StatusRun, c.Status())

	mr.Close()
	assert.Error(t, c.Rdb.Ping(ctx).Err())
	assert.Equal(t, domain.StatusRunning, c.Status())

	require.NoError(t, mr.Restart())
	require.Eventually(t, func() bool {
		return c.Rdb.Ping(ctx).Err() == nil
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.StatusRun, c.Status())
}

func TestClientInitGivesUpWithContext(t *testing.T) {
	c, err := New(config.Redis{Addr: "127.0.0.1:1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = c.Init(ctx, 10*time.Millisecond, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.StatusRunning, c.Status())
}

func TestClientRedisErrorKeepsStatus(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	require.NoError(t, c.Rdb.Set(ctx, "k", "v", 0).Err())
	assert.Error(t, c.Rdb.LPush(ctx, "k", "x").Err())
	assert.Equal(t, domain.StatusRun, c.Status())
}

func TestClientClose(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Close())
	assert.Equal(t, domain.StatusStopped, c.Status())
	assert.ErrorIs(t, c.Close(), ErrClosed)
}
