package redisq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"filemesh/internal/codec"
	"filemesh/internal/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.PubSub = (*PubSub)(nil)

// PubSub publishes on one connection and subscribes on another, both
// duplicated from the client it was built from.
type PubSub struct {
	pub *Client
	sub *Client

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

type subscription struct {
	ps        *redis.PubSub
	callbacks []ports.MessageHandler
	done      chan struct{}
}

func NewPubSub(c *Client) *PubSub {
	return &PubSub{
		pub:  c.Duplicate(),
		sub:  c.Duplicate(),
		subs: map[string]*subscription{},
	}
}

// On registers cb for channel. The first registration on a channel returns
// once the store has confirmed the subscription, so a Fire issued afterwards
// is delivered.
func (p *PubSub) On(ctx context.Context, channel string, cb ports.MessageHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	if s, ok := p.subs[channel]; ok {
		s.callbacks = append(s.callbacks, cb)
		return nil
	}

	ps := p.sub.Rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &subscription{ps: ps, callbacks: []ports.MessageHandler{cb}, done: make(chan struct{})}
	p.subs[channel] = s
	go p.dispatch(ctx, channel, s)

	log.Ctx(ctx).Debug().Str("channel", channel).Msg("subscribed")
	return nil
}

func (p *PubSub) dispatch(ctx context.Context, channel string, s *subscription) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		v := codec.Decode(msg.Payload)
		if !v.IsJSON() {
			log.Ctx(ctx).Debug().Str("channel", channel).Msg("message is not json, passing raw text")
		}

		p.mu.Lock()
		callbacks := append([]ports.MessageHandler(nil), s.callbacks...)
		p.mu.Unlock()

		for _, cb := range callbacks {
			cb(msg.Channel, v)
		}
	}
}

func (p *PubSub) Off(ctx context.Context, channel string) error {
	p.mu.Lock()
	s, ok := p.subs[channel]
	delete(p.subs, channel)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	err := s.ps.Close()
	<-s.done
	log.Ctx(ctx).Debug().Str("channel", channel).Msg("unsubscribed")
	return err
}

// Fire publishes data without waiting for any subscriber.
func (p *PubSub) Fire(ctx context.Context, channel string, data any) error {
	raw, fallback := codec.Encode(data)
	if fallback {
		log.Ctx(ctx).Warn().Str("channel", channel).Msg("message is not json encodable, publishing raw text")
	}
	if err := p.pub.Rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subs
	p.subs = map[string]*subscription{}
	p.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.ps.Close())
		<-s.done
	}
	errs = append(errs, p.pub.Close(), p.sub.Close())
	return errors.Join(errs...)
}
