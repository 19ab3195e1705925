package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"filemesh/internal/codec"
	"filemesh/internal/domain"
	"filemesh/internal/ports"
	"filemesh/pkg/backoff"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Ready must be called exactly once per handler invocation.
type Ready func(res domain.Result)

// Handler processes one task. It may call ready after returning.
type Handler func(ctx context.Context, t domain.Task, ready Ready)

type Stats struct {
	Processed atomic.Int64
	Failed    atomic.Int64
	Orphaned  atomic.Int64
}

// Consumer is a worker loop bound to one channel. It never has more than one
// handler invocation in flight.
type Consumer struct {
	Q       ports.Queue
	Store   ports.Store
	Channel string

	PollTimeout       time.Duration
	ProcessingBackoff time.Duration
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	DeadLetter        bool

	Stats Stats

	state *domain.State
	once  sync.Once
}

func (c *Consumer) init() {
	c.once.Do(func() {
		c.state = domain.NewState(domain.StatusRunning)
		if c.PollTimeout <= 0 {
			c.PollTimeout = 2 * time.Second
		}
		if c.ProcessingBackoff <= 0 {
			c.ProcessingBackoff = 500 * time.Millisecond
		}
		if c.BaseBackoff <= 0 {
			c.BaseBackoff = 500 * time.Millisecond
		}
		if c.MaxBackoff <= 0 {
			c.MaxBackoff = 30 * time.Second
		}
	})
}

func (c *Consumer) Status() domain.Status {
	c.init()
	return c.state.Load()
}

// Run polls the channel until ctx ends. Cancellation never interrupts a
// handler: Run keeps waiting while a task is processing and returns only
// once the loop is idle again.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	c.init()
	c.state.Store(domain.StatusRun)
	logger := log.Ctx(ctx).With().Str("channel", c.Channel).Logger()
	logger.Info().Msg("worker loop started")

	// a pop in flight when ctx ends still has to deliver its id
	popCtx := context.WithoutCancel(ctx)
	failures := 0

	for {
		if c.state.Load() == domain.StatusProcessing {
			time.Sleep(c.ProcessingBackoff)
			continue
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("worker loop stopped")
			return ctx.Err()
		default:
		}

		id, err := c.Q.Pop(popCtx, c.Channel, c.PollTimeout)
		if err != nil {
			failures++
			delay := backoff.ExponentialJitter(c.BaseBackoff, c.MaxBackoff, failures)
			logger.Error().Err(err).Dur("retry_in", delay).Msg("pop failed")
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		if id == "" {
			continue
		}

		c.dispatch(ctx, popCtx, id, handle)
	}
}

// dispatch runs the handler for a popped id. ctx is the Run context; the
// store is used through popCtx so an in-flight id is never cut off.
func (c *Consumer) dispatch(ctx, popCtx context.Context, id string, handle Handler) {
	logger := log.Ctx(ctx).With().Str("channel", c.Channel).Str("id", id).Logger()

	v, found, err := c.read(ctx, popCtx, id, &logger)
	if err != nil {
		// stopping while the store is unreachable
		if err := c.Q.Return(popCtx, c.Channel, id); err != nil {
			logger.Error().Err(err).Str("event", "return_failed").Msg("could not put task id back on the queue")
			return
		}
		logger.Warn().Msg("payload unreadable, task id returned to the queue")
		return
	}
	if !found {
		c.Stats.Orphaned.Add(1)
		logger.Warn().Str("event", "orphaned_payload").Msg("popped task has no payload")
		if c.DeadLetter {
			if err := c.Q.DeadLetter(popCtx, c.Channel, id); err != nil {
				logger.Error().Err(err).Msg("dead letter append failed")
			}
		}
		return
	}

	c.state.Store(domain.StatusProcessing)
	logger.Debug().Msg("task received")

	var done atomic.Bool
	ready := func(res domain.Result) {
		if !done.CompareAndSwap(false, true) {
			logger.Warn().Str("event", "ready_called_twice").Msg("ready callback already invoked")
			return
		}
		c.complete(popCtx, id, res)
	}

	task := domain.Task{ID: id, Data: v}
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Str("stack", string(debug.Stack())).Msgf("handler panic: %v", r)
				ready(domain.Result{Err: fmt.Errorf("handler panic: %v", r)})
			}
		}()
		handle(popCtx, task, ready)
	}()
}

// read retries a failing payload read with backoff until it succeeds or ctx
// ends. Only a successful read can report the payload missing.
func (c *Consumer) read(ctx, popCtx context.Context, id string, logger *zerolog.Logger) (codec.Value, bool, error) {
	for attempt := 1; ; attempt++ {
		v, found, err := c.Store.Read(popCtx, id)
		if err == nil {
			return v, found, nil
		}
		delay := backoff.ExponentialJitter(c.BaseBackoff, c.MaxBackoff, attempt)
		logger.Warn().Err(err).Str("event", "read_failed").Dur("retry_in", delay).Msg("payload read failed")
		select {
		case <-ctx.Done():
			return codec.Value{}, false, err
		case <-time.After(delay):
		}
	}
}

// complete acknowledges by deleting the payload; failures keep it and record
// the id in the channel's failed set.
func (c *Consumer) complete(ctx context.Context, id string, res domain.Result) {
	logger := log.Ctx(ctx).With().Str("channel", c.Channel).Str("id", id).Logger()

	if res.Err == nil {
		if err := c.Store.Remove(ctx, id); err != nil {
			logger.Error().Err(err).Str("event", "ack_failed").Msg("ack failed, payload left in store")
			if err := c.Q.DeadLetter(ctx, c.Channel, id); err != nil {
				logger.Error().Err(err).Msg("dead letter append failed")
			}
		}
		c.Stats.Processed.Add(1)
		logger.Debug().Msg("task done")
	} else {
		c.Stats.Failed.Add(1)
		logger.Warn().Err(res.Err).Str("event", "task_failed").Msg("task failed, payload retained")
		if err := c.Q.MarkFailed(ctx, c.Channel, id); err != nil {
			logger.Error().Err(err).Msg("record failed task")
		}
	}

	c.state.CompareAndSwap(domain.StatusProcessing, domain.StatusRun)
}

// IsStopped reports whether err is the normal result of a cancelled Run.
func IsStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
