package redisq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filemesh/internal/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Queue = (*ListQueue)(nil)

// ListQueue appends task ids at the head of a list named after the channel
// and pops them from the tail, so each channel is FIFO.
type ListQueue struct {
	C     *Client
	Store *Store
	TTL   time.Duration
}

func NewListQueue(c *Client, store *Store, ttl time.Duration) *ListQueue {
	return &ListQueue{C: c, Store: store, TTL: ttl}
}

func (q *ListQueue) Push(ctx context.Context, channel string, payload any) (string, error) {
	return q.PushWithID(ctx, channel, "", payload)
}

// PushWithID stores the payload, then appends its id to the channel. A failed
// append is logged and the id is still returned; the payload stays orphaned.
func (q *ListQueue) PushWithID(ctx context.Context, channel, id string, payload any) (string, error) {
	id, err := q.Store.Create(ctx, id, payload, q.TTL)
	if err != nil {
		return "", err
	}

	if err := q.C.Rdb.LPush(ctx, channel, id).Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("event", "append_failed").
			Str("channel", channel).
			Str("id", id).
			Msg("payload stored but queue append failed")
	}
	return id, nil
}

func (q *ListQueue) Pop(ctx context.Context, channel string, timeout time.Duration) (string, error) {
	res, err := q.C.Rdb.BRPop(ctx, timeout, channel).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pop %s: %w", channel, err)
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

func (q *ListQueue) Return(ctx context.Context, channel, id string) error {
	return q.C.Rdb.RPush(ctx, channel, id).Err()
}

func (q *ListQueue) Count(ctx context.Context, channel string) (int64, error) {
	return q.C.Rdb.LLen(ctx, channel).Result()
}

// MarkFailed records a task whose handler reported an error. The payload is
// left in place; nothing re-appends it until Requeue is called.
func (q *ListQueue) MarkFailed(ctx context.Context, channel, id string) error {
	return q.C.Rdb.ZAdd(ctx, failedKey(channel), redis.Z{
		Score:  nowMs(),
		Member: id,
	}).Err()
}

// Failed lists failed task ids, oldest first.
func (q *ListQueue) Failed(ctx context.Context, channel string) ([]string, error) {
	return q.C.Rdb.ZRange(ctx, failedKey(channel), 0, -1).Result()
}

// DeadLetter keeps ids that were popped without a readable payload.
func (q *ListQueue) DeadLetter(ctx context.Context, channel, id string) error {
	return q.C.Rdb.LPush(ctx, deadKey(channel), id).Err()
}

func (q *ListQueue) Dead(ctx context.Context, channel string) ([]string, error) {
	return q.C.Rdb.LRange(ctx, deadKey(channel), 0, -1).Result()
}

func failedKey(channel string) string { return channel + ":failed" }
func deadKey(channel string) string   { return channel + ":dead" }

func nowMs() float64 { return float64(time.Now().UnixMilli()) }
