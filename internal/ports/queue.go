package ports

import (
	"context"
	"filemesh/internal/codec"
	"time"
)

// Store keeps task payloads by id.
type Store interface {
	Create(ctx context.Context, id string, value any, ttl time.Duration) (string, error)
	// Read reports found=false when the id holds nothing.
	Read(ctx context.Context, id string) (v codec.Value, found bool, err error)
	Update(ctx context.Context, id string, value any) error
	// Remove is a no-op for unknown ids.
	Remove(ctx context.Context, id string) error
}

type Queue interface {
	Push(ctx context.Context, channel string, payload any) (string, error)
	PushWithID(ctx context.Context, channel, id string, payload any) (string, error)
	// Pop returns "" when nothing arrived within timeout.
	Pop(ctx context.Context, channel string, timeout time.Duration) (string, error)
	Count(ctx context.Context, channel string) (int64, error)
	// Return puts a popped id back so it is the next one popped.
	Return(ctx context.Context, channel, id string) error

	MarkFailed(ctx context.Context, channel, id string) error
	DeadLetter(ctx context.Context, channel, id string) error
	Requeue(ctx context.Context, channel string, limit int64) (int, error)
}

type MessageHandler func(channel string, v codec.Value)

type PubSub interface {
	On(ctx context.Context, channel string, cb MessageHandler) error
	Off(ctx context.Context, channel string) error
	Fire(ctx context.Context, channel string, data any) error
}
