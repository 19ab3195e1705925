package redisq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filemesh/internal/codec"
	"filemesh/internal/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Store = (*Store)(nil)

// Store keeps task payloads as plain string keys named by task id.
type Store struct {
	C *Client
}

func NewStore(c *Client) *Store {
	return &Store{C: c}
}

func (s *Store) Create(ctx context.Context, id string, value any, ttl time.Duration) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	raw := encode(ctx, id, value)
	if err := s.C.Rdb.Set(ctx, id, raw, ttl).Err(); err != nil {
		return "", fmt.Errorf("create %s: %w", id, err)
	}
	return id, nil
}

func (s *Store) Read(ctx context.Context, id string) (codec.Value, bool, error) {
	raw, err := s.C.Rdb.Get(ctx, id).Result()
	if errors.Is(err, redis.Nil) {
		return codec.Value{}, false, nil
	}
	if err != nil {
		return codec.Value{}, false, fmt.Errorf("read %s: %w", id, err)
	}
	return codec.Decode(raw), true, nil
}

// Update replaces the value and keeps any expiry set at create time.
func (s *Store) Update(ctx context.Context, id string, value any) error {
	raw := encode(ctx, id, value)
	if err := s.C.Rdb.Set(ctx, id, raw, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.C.Rdb.Del(ctx, id).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

func encode(ctx context.Context, id string, value any) string {
	raw, fallback := codec.Encode(value)
	if fallback {
		log.Ctx(ctx).Warn().Str("id", id).Msg("value is not json encodable, storing raw text")
	}
	return raw
}
