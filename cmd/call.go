package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"filemesh/internal/config"
	"filemesh/internal/domain"
	"filemesh/internal/infra/redisq"
	"filemesh/internal/usecase"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func callCmd() *cobra.Command {
	var (
		user    string
		timeout time.Duration
	)

	var command = &cobra.Command{
		Use:   "call <channel> <json-data>",
		Short: "Send a task to a service and wait for its reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := context.Background()
			if timeout <= 0 {
				timeout = cfg.Call.Timeout
			}

			data := json.RawMessage(args[1])
			if !json.Valid(data) {
				return errors.New("data is not valid json")
			}

			cli, err := redisq.New(cfg.Redis)
			if err != nil {
				return err
			}
			defer cli.Close()
			if err := cli.Connect(ctx); err != nil {
				return err
			}

			queue := redisq.NewListQueue(cli, redisq.NewStore(cli), cfg.Queue.TaskTTL)
			ps := redisq.NewPubSub(cli)
			defer ps.Close()

			caller := usecase.NewCaller(queue, ps, "cli-"+uuid.NewString(), timeout)
			if err := caller.Start(ctx); err != nil {
				return err
			}

			msg, err := caller.Call(ctx, args[0], domain.Payload{User: domain.User{ID: user}, Data: data})
			if msg.Data != nil {
				out, _ := json.MarshalIndent(msg, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return err
		},
	}

	command.Flags().StringVar(&user, "user", "", "User id placed in the payload")
	command.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait for the reply (default Call_Timeout)")
	return command
}
