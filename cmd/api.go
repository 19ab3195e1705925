package cmd

import (
	"context"

	"filemesh/internal/api"
	"filemesh/internal/config"
	"filemesh/internal/infra/redisq"
	"filemesh/internal/lifecycle"
	"filemesh/internal/usecase"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var (
		port         int
		replyChannel string
	)
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := context.Background()

			cli, err := redisq.New(cfg.Redis)
			if err != nil {
				return err
			}
			if err := cli.Init(ctx, cfg.Queue.ReconnectBaseBackoff, cfg.Queue.ReconnectMaxBackoff); err != nil {
				return err
			}

			store := redisq.NewStore(cli)
			queue := redisq.NewListQueue(cli, store, cfg.Queue.TaskTTL)
			ps := redisq.NewPubSub(cli)

			caller := usecase.NewCaller(queue, ps, replyChannel, cfg.Call.Timeout)
			if err := caller.Start(ctx); err != nil {
				return err
			}
			log.Info().Msgf("API server replies on channel: %s", replyChannel)

			coord := lifecycle.New("api", cfg.Queue.ShutdownPollInterval, cfg.Queue.IdleWaitInterval)
			coord.Watch(caller)
			coord.OnClose("pubsub", ps)
			coord.OnClose("queue", cli)

			server := api.NewServer(api.Deps{Queue: queue, Store: store, PubSub: ps, Caller: caller})
			server.Run(port, coord)
			return nil
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	command.Flags().StringVar(&replyChannel, "reply-channel", "api-replies", "Pub/sub channel the API waits for call replies on")
	return command
}
