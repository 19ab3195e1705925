// Package lifecycle drains a process before its store connections close.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"filemesh/internal/domain"

	"github.com/rs/zerolog/log"
)

// Watched is anything with a status; it is idle unless processing.
type Watched interface {
	Status() domain.Status
}

type closer struct {
	c    io.Closer
	name string
}

// Coordinator shuts a service down once every watched worker is idle.
type Coordinator struct {
	Name         string
	PollInterval time.Duration // worker drain poll
	IdleInterval time.Duration // per-connection idle poll before close

	mu      sync.Mutex
	watched []Watched
	closers []closer

	status *domain.State
	once   sync.Once
	done   chan struct{}
	err    error
}

func New(name string, poll, idle time.Duration) *Coordinator {
	if poll <= 0 {
		poll = 5 * time.Millisecond
	}
	if idle <= 0 {
		idle = 100 * time.Millisecond
	}
	return &Coordinator{
		Name:         name,
		PollInterval: poll,
		IdleInterval: idle,
		status:       domain.NewState(domain.StatusRun),
		done:         make(chan struct{}),
	}
}

func (c *Coordinator) Watch(w ...Watched) {
	c.mu.Lock()
	c.watched = append(c.watched, w...)
	c.mu.Unlock()
}

// OnClose registers a connection to close during shutdown, in registration
// order. A closer that is also Watched is closed only once it is idle.
func (c *Coordinator) OnClose(name string, cl io.Closer) {
	c.mu.Lock()
	c.closers = append(c.closers, closer{c: cl, name: name})
	c.mu.Unlock()
}

func (c *Coordinator) Status() domain.Status { return c.status.Load() }

// Done is closed once shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Shutdown waits until every watched worker is idle, then closes the
// registered connections. Only the first call does the work; later calls
// wait for it and return its result. If ctx ends first nothing is closed.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		c.err = c.shutdown(ctx)
		close(c.done)
	})
	if !first {
		log.Ctx(ctx).Debug().Str("service", c.Name).Msg("shutdown already in progress")
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func (c *Coordinator) shutdown(ctx context.Context) error {
	logger := log.Ctx(ctx).With().Str("service", c.Name).Logger()
	logger.Info().Msgf("stopping %s...", c.Name)

	c.mu.Lock()
	watched := append([]Watched(nil), c.watched...)
	closers := append([]closer(nil), c.closers...)
	c.mu.Unlock()

	if err := waitIdle(ctx, c.PollInterval, watched...); err != nil {
		logger.Error().Err(err).Msg("gave up waiting for in-flight work")
		return err
	}

	c.status.Store(domain.StatusStopping)
	var errs []error
	for _, cl := range closers {
		if w, ok := cl.c.(Watched); ok {
			if err := waitIdle(ctx, c.IdleInterval, w); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := cl.c.Close(); err != nil {
			logger.Warn().Err(err).Str("conn", cl.name).Msg("close failed")
			errs = append(errs, err)
		}
	}
	c.status.Store(domain.StatusStopped)
	logger.Info().Msgf("%s was stopped", c.Name)
	return errors.Join(errs...)
}

func waitIdle(ctx context.Context, every time.Duration, ws ...Watched) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		idle := true
		for _, w := range ws {
			if !w.Status().Idle() {
				idle = false
				break
			}
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// NotifyContext is cancelled by the signals a service is stopped with.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
}
