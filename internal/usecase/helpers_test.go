package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"filemesh/internal/codec"
	"filemesh/internal/config"
	"filemesh/internal/domain"
	"filemesh/internal/infra/redisq"
	"filemesh/internal/ports"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type rig struct {
	mr    *miniredis.Miniredis
	cli   *redisq.Client
	store *redisq.Store
	queue *redisq.ListQueue
}

func newRig(t *testing.T) *rig {
	t.Helper()
	mr := miniredis.RunT(t)

	cli, err := redisq.New(config.Redis{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	store := redisq.NewStore(cli)
	return &rig{mr: mr, cli: cli, store: store, queue: redisq.NewListQueue(cli, store, 0)}
}

func (r *rig) pubsub(t *testing.T) *redisq.PubSub {
	t.Helper()
	ps := redisq.NewPubSub(r.cli)
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func (r *rig) consumer(channel string) *Consumer {
	return &Consumer{
		Q:                 r.queue,
		Store:             r.store,
		Channel:           channel,
		PollTimeout:       time.Second,
		ProcessingBackoff: 5 * time.Millisecond,
		BaseBackoff:       10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		DeadLetter:        true,
	}
}

// start runs c in the background; the returned func cancels it and waits.
func start(t *testing.T, c *Consumer, h Handler) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, h) }()

	require.Eventually(t, func() bool { return c.Status() != domain.StatusRunning }, time.Second, time.Millisecond)

	var once sync.Once
	var err error
	stop = func() error {
		once.Do(func() {
			cancel()
			err = <-errc
		})
		return err
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

var errStoreDown = errors.New("i/o timeout")

// flakyStore fails the first readFails reads (all of them when negative) and
// every Remove when removeFails is set.
type flakyStore struct {
	ports.Store
	readFails   int32
	removeFails bool
	reads       atomic.Int32
}

func (s *flakyStore) Read(ctx context.Context, id string) (codec.Value, bool, error) {
	n := s.reads.Add(1)
	if s.readFails < 0 || n <= s.readFails {
		return codec.Value{}, false, errStoreDown
	}
	return s.Store.Read(ctx, id)
}

func (s *flakyStore) Remove(ctx context.Context, id string) error {
	if s.removeFails {
		return errStoreDown
	}
	return s.Store.Remove(ctx, id)
}
