package redisq

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const requeueBatch = 128

// Requeue moves failed task ids back onto the channel, oldest first, up to
// limit ids (limit <= 0 means all). Ids whose payload expired or was removed
// are dropped from the failed set. It returns the number of ids re-appended.
func (q *ListQueue) Requeue(ctx context.Context, channel string, limit int64) (int, error) {
	moved := 0
	for limit <= 0 || int64(moved) < limit {
		count := int64(requeueBatch)
		if limit > 0 {
			count = min(count, limit-int64(moved))
		}
		n, more, err := q.moveFailed(ctx, channel, count)
		moved += n
		if err != nil || !more {
			return moved, err
		}
	}
	return moved, nil
}

func (q *ListQueue) moveFailed(ctx context.Context, channel string, count int64) (int, bool, error) {
	ids, err := q.C.Rdb.ZRangeByScore(ctx, failedKey(channel), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmtFloat(nowMs()),
		Offset: 0,
		Count:  count,
	}).Result()
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}

	moved := 0
	for _, id := range ids {
		// ZREM claims the id; a concurrent requeue that loses the race skips it
		claimed, err := q.C.Rdb.ZRem(ctx, failedKey(channel), id).Result()
		if err != nil {
			return moved, false, err
		}
		if claimed == 0 {
			continue
		}

		exists, err := q.C.Rdb.Exists(ctx, id).Result()
		if err != nil {
			return moved, false, q.restoreFailed(ctx, channel, id, err)
		}
		if exists == 0 {
			log.Ctx(ctx).Warn().Str("channel", channel).Str("id", id).Msg("failed task payload is gone, dropping")
			continue
		}

		if err := q.C.Rdb.LPush(ctx, channel, id).Err(); err != nil {
			return moved, false, q.restoreFailed(ctx, channel, id, err)
		}
		moved++
	}
	return moved, int64(len(ids)) == count, nil
}

// restoreFailed puts a claimed id back into the failed set after a move
// could not finish.
func (q *ListQueue) restoreFailed(ctx context.Context, channel, id string, cause error) error {
	if err := q.MarkFailed(ctx, channel, id); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("channel", channel).Str("id", id).Str("event", "requeue_lost").
			Msg("claimed id could not be restored to the failed set")
		return errors.Join(cause, err)
	}
	return cause
}

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
