package cmd

import (
	"filemesh/internal/config"
	"filemesh/internal/worker"
	"time"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var (
		service     string
		channel     string
		baseBackoff time.Duration
		maxBackoff  time.Duration
	)

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start a worker serving one queue channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			if channel == "" {
				channel = config.Load().Channels.FileManager
			}
			return worker.Run(worker.Config{
				Service:     service,
				Channel:     channel,
				BaseBackoff: baseBackoff,
				MaxBackoff:  maxBackoff,
			})
		},
	}

	command.Flags().StringVar(&service, "service", "file-manager", "Service name used in replies and logs")
	command.Flags().StringVar(&channel, "channel", "", "Queue channel to consume (default FILE_MANAGER_CHANNEL)")
	command.Flags().DurationVar(&baseBackoff, "base-backoff", 500*time.Millisecond, "Base backoff after a failed pop")
	command.Flags().DurationVar(&maxBackoff, "max-backoff", 30*time.Second, "Max backoff after a failed pop")

	return command
}
