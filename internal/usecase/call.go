package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"filemesh/internal/codec"
	"filemesh/internal/domain"
	"filemesh/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrCallTimeout = errors.New("call timed out waiting for reply")

// Caller turns a queue push plus a reply on a pub/sub channel into a blocking
// call. Replies are matched to calls by data._id, so any number of calls may
// share one reply channel.
type Caller struct {
	Q            ports.Queue
	PS           ports.PubSub
	ReplyChannel string
	Timeout      time.Duration

	mu      sync.Mutex
	pending map[string]chan domain.Message
	logger  *zerolog.Logger
}

func NewCaller(q ports.Queue, ps ports.PubSub, replyChannel string, timeout time.Duration) *Caller {
	return &Caller{
		Q:            q,
		PS:           ps,
		ReplyChannel: replyChannel,
		Timeout:      timeout,
		pending:      map[string]chan domain.Message{},
		logger:       log.Ctx(context.Background()),
	}
}

// Start subscribes to the reply channel. It must return before the first Call.
func (c *Caller) Start(ctx context.Context) error {
	c.logger = log.Ctx(ctx)
	return c.PS.On(ctx, c.ReplyChannel, c.resolve)
}

func (c *Caller) resolve(channel string, v codec.Value) {
	var msg domain.Message
	if err := v.Into(&msg); err != nil {
		c.logger.Warn().Err(err).Str("channel", channel).Msg("reply is not a message envelope")
		return
	}
	id := msg.CorrelationID()

	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().Str("channel", channel).Str("id", id).Msg("reply for unknown call")
		return
	}
	ch <- msg
}

// Call pushes payload onto channel and waits for the matching reply. A reply
// carrying {error, message} is returned together with a *domain.ReplyError.
func (c *Caller) Call(ctx context.Context, channel string, payload domain.Payload) (domain.Message, error) {
	id := uuid.NewString()
	ch := make(chan domain.Message, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.forget(id)

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	_, err := c.Q.PushWithID(ctx, channel, id, domain.TaskData{
		InputChannel:  channel,
		OutputChannel: c.ReplyChannel,
		Payload:       payload,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("call %s: %w", channel, err)
	}

	select {
	case msg := <-ch:
		return msg, msg.Err()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Message{}, fmt.Errorf("%w: task %s on %s", ErrCallTimeout, id, channel)
		}
		return domain.Message{}, ctx.Err()
	}
}

func (c *Caller) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Caller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Status is StatusProcessing while any call waits for its reply.
func (c *Caller) Status() domain.Status {
	if c.Pending() > 0 {
		return domain.StatusProcessing
	}
	return domain.StatusRun
}
