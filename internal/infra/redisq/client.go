package redisq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"filemesh/internal/config"
	"filemesh/internal/domain"
	"filemesh/pkg/backoff"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("redisq: client closed")

type Client struct {
	Cfg config.Redis
	Rdb *redis.Client

	status *domain.State
}

func New(cfg config.Redis) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	log.Info().Msgf("connecting to redis at %s", opts.Addr)
	return newClient(cfg, opts), nil
}

func newClient(cfg config.Redis, opts *redis.Options) *Client {
	c := &Client{Cfg: cfg, Rdb: redis.NewClient(opts), status: domain.NewState(domain.StatusRunning)}
	c.Rdb.AddHook(statusHook{c.status})
	return c
}

// Duplicate opens a second client with the same options, for connections that
// must not share a pool with the original (pub/sub publisher and subscriber).
func (c *Client) Duplicate() *Client {
	opts := *c.Rdb.Options()
	return newClient(c.Cfg, &opts)
}

// Status is StatusRunning until the store answers, and again after a
// connection failure until the next successful command.
func (c *Client) Status() domain.Status { return c.status.Load() }

// Connect → single ping, no retry
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

// Init pings until the store answers or ctx ends.
func (c *Client) Init(ctx context.Context, base, max time.Duration) error {
	for attempt := 1; ; attempt++ {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		delay := backoff.ExponentialJitter(base, max, attempt)
		log.Ctx(ctx).Warn().Err(err).Dur("retry_in", delay).Msg("try to connect redis client")

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Client) Close() error {
	if err := c.Rdb.Close(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	c.status.Store(domain.StatusStopped)
	return nil
}

// statusHook flips the connection status on dial and command outcomes.
type statusHook struct {
	st *domain.State
}

func (h statusHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		h.observe(err)
		return conn, err
	}
}

func (h statusHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.observe(err)
		return err
	}
}

func (h statusHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.observe(err)
		return err
	}
}

func (h statusHook) observe(err error) {
	if connectionError(err) {
		h.st.CompareAndSwap(domain.StatusRun, domain.StatusRunning)
		return
	}
	h.st.CompareAndSwap(domain.StatusRunning, domain.StatusRun)
}

func connectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rerr redis.Error
	return !errors.As(err, &rerr)
}
