// internal/worker/server.go
package worker

import (
	"context"
	"time"

	"filemesh/internal/config"
	"filemesh/internal/infra/redisq"
	"filemesh/internal/lifecycle"
	"filemesh/internal/usecase"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Service     string
	Channel     string
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func Run(cfg Config) error {
	appCfg := config.Load()

	ctx, stop := lifecycle.NotifyContext(context.Background())
	defer stop()
	ctx = log.With().Str("service", cfg.Service).Logger().WithContext(ctx)

	cli, err := redisq.New(appCfg.Redis)
	if err != nil {
		return err
	}
	if err := cli.Init(ctx, appCfg.Queue.ReconnectBaseBackoff, appCfg.Queue.ReconnectMaxBackoff); err != nil {
		return err
	}

	store := redisq.NewStore(cli)
	queue := redisq.NewListQueue(cli, store, appCfg.Queue.TaskTTL)
	ps := redisq.NewPubSub(cli)

	consumer := &usecase.Consumer{
		Q:                 queue,
		Store:             store,
		Channel:           cfg.Channel,
		PollTimeout:       appCfg.Queue.PollTimeout,
		ProcessingBackoff: appCfg.Queue.ProcessingBackoff,
		BaseBackoff:       cfg.BaseBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		DeadLetter:        appCfg.Queue.DeadLetter,
	}

	coord := lifecycle.New(cfg.Service, appCfg.Queue.ShutdownPollInterval, appCfg.Queue.IdleWaitInterval)
	coord.Watch(consumer)
	coord.OnClose("pubsub", ps)
	coord.OnClose("queue", cli)

	svc := Service{Responder: usecase.Responder{PS: ps, Type: cfg.Service}}
	log.Ctx(ctx).Info().Str("channel", cfg.Channel).Msgf("%s was started", cfg.Service)

	runErr := consumer.Run(ctx, svc.Handle)
	if usecase.IsStopped(runErr) {
		runErr = nil
	}

	log.Ctx(ctx).Info().
		Int64("processed", consumer.Stats.Processed.Load()).
		Int64("failed", consumer.Stats.Failed.Load()).
		Int64("orphaned", consumer.Stats.Orphaned.Load()).
		Msg("worker stats")

	// the signal context is already done; drain without a deadline
	if err := coord.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return runErr
}
