package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"filemesh/internal/domain"
	"filemesh/internal/ports"

	"github.com/rs/zerolog/log"
)

// Responder publishes task results on the task's output channel. Type names
// the answering service in every envelope.
type Responder struct {
	PS   ports.PubSub
	Type string
}

// Reply sends data with "_id" set to the task id.
func (r Responder) Reply(ctx context.Context, taskID string, env domain.TaskData, data map[string]any) error {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["_id"] = taskID
	return r.fire(ctx, env, out)
}

// Fail sends {_id, error, message}.
func (r Responder) Fail(ctx context.Context, taskID string, env domain.TaskData, code any, message string) error {
	return r.fire(ctx, env, map[string]any{
		"_id":     taskID,
		"error":   code,
		"message": message,
	})
}

func (r Responder) fire(ctx context.Context, env domain.TaskData, data map[string]any) error {
	if env.OutputChannel == "" {
		log.Ctx(ctx).Debug().Any("data", data).Msg("no output channel, result dropped")
		return nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	msg := domain.Message{
		User:          env.Payload.User,
		Data:          b,
		Type:          r.Type,
		SendToHimself: true,
	}
	if env.Payload.User.ID != "" {
		msg.IDs = []string{env.Payload.User.ID}
	}
	return r.PS.Fire(ctx, env.OutputChannel, msg)
}
