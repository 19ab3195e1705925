package cmd

import (
	"context"
	"fmt"

	"filemesh/internal/config"
	"filemesh/internal/infra/redisq"

	"github.com/spf13/cobra"
)

func requeueCmd() *cobra.Command {
	var (
		limit    int64
		listOnly bool
	)

	var command = &cobra.Command{
		Use:   "requeue <channel>",
		Short: "Put failed tasks of a channel back on its queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cli, err := redisq.New(cfg.Redis)
			if err != nil {
				return err
			}
			defer cli.Close()
			if err := cli.Connect(ctx); err != nil {
				return err
			}

			q := redisq.NewListQueue(cli, redisq.NewStore(cli), cfg.Queue.TaskTTL)
			channel := args[0]

			if listOnly {
				failed, err := q.Failed(ctx, channel)
				if err != nil {
					return err
				}
				dead, err := q.Dead(ctx, channel)
				if err != nil {
					return err
				}
				for _, id := range failed {
					fmt.Fprintf(cmd.OutOrStdout(), "failed\t%s\n", id)
				}
				for _, id := range dead {
					fmt.Fprintf(cmd.OutOrStdout(), "dead\t%s\n", id)
				}
				return nil
			}

			n, err := q.Requeue(ctx, channel, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d task(s) on %s\n", n, channel)
			return nil
		},
	}

	command.Flags().Int64Var(&limit, "limit", 0, "Max tasks to requeue (0 = all)")
	command.Flags().BoolVar(&listOnly, "list", false, "Only list failed and dead-lettered ids")
	return command
}
