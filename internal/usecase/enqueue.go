package usecase

import (
	"context"
	"filemesh/internal/domain"
	"filemesh/internal/ports"
)

type Enqueuer struct {
	Q ports.Queue
}

// Now pushes an arbitrary payload onto channel.
func (e Enqueuer) Now(ctx context.Context, channel string, payload any) (string, error) {
	return e.Q.Push(ctx, channel, payload)
}

// Submit wraps payload in a task envelope addressed to channel. When output is
// set the receiving service publishes its result there.
func (e Enqueuer) Submit(ctx context.Context, channel, output string, payload domain.Payload) (string, error) {
	return e.Q.Push(ctx, channel, domain.TaskData{
		InputChannel:  channel,
		OutputChannel: output,
		Payload:       payload,
	})
}
