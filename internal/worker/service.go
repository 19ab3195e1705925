package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"filemesh/internal/domain"
	"filemesh/internal/usecase"

	"github.com/rs/zerolog/log"
)

// Error codes reported in {error, message} replies.
const (
	CodeBadEnvelope = -400
	CodeFailed      = -500
)

var errAskedToFail = errors.New("task asked to fail")

type request struct {
	Test   bool   `json:"test"`
	Action string `json:"action"`
}

// Service is the handler the worker command serves: it answers test probes,
// echoes data back, and fails tasks whose action is "fail".
type Service struct {
	Responder usecase.Responder
}

func (s Service) Handle(ctx context.Context, t domain.Task, ready usecase.Ready) {
	logger := log.Ctx(ctx).With().Str("id", t.ID).Logger()
	logger.Info().Msg("received task")

	env, err := t.Envelope()
	if err != nil {
		logger.Error().Err(err).Msg("task is not an envelope")
		ready(domain.Result{Err: err})
		return
	}

	res := s.process(ctx, t.ID, env)
	ready(res)
	logger.Info().Msg("finished task")
}

func (s Service) process(ctx context.Context, id string, env domain.TaskData) domain.Result {
	var req request
	if len(env.Payload.Data) > 0 {
		if err := json.Unmarshal(env.Payload.Data, &req); err != nil {
			s.report(ctx, s.Responder.Fail(ctx, id, env, CodeBadEnvelope, err.Error()))
			return domain.Result{Err: fmt.Errorf("decode data: %w", err)}
		}
	}

	switch {
	case req.Test:
		s.report(ctx, s.Responder.Reply(ctx, id, env, map[string]any{"test": true, "success": true}))
	case req.Action == "fail":
		s.report(ctx, s.Responder.Fail(ctx, id, env, CodeFailed, errAskedToFail.Error()))
		return domain.Result{Err: errAskedToFail}
	default:
		s.report(ctx, s.Responder.Reply(ctx, id, env, map[string]any{"result": env.Payload.Data}))
	}
	return domain.Result{}
}

func (s Service) report(ctx context.Context, err error) {
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("publish result failed")
	}
}
