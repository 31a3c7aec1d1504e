// Package cmd implements the gatekeeper-admin subcommands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tourwise/gatekeeper/internal/config"
	"github.com/tourwise/gatekeeper/internal/infra/redis"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper-admin",
	Short: "Operator CLI for the admission gateway",
	Long: `gatekeeper-admin manages the admission gateway's shared state:
temporary IP blocks, device-bound sessions, and rate-limit windows.

Configuration is read from the same environment variables as the server
(REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, ...).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(ratelimitCmd)
}

// connect builds a Redis client from the environment. The caller owns
// Close.
func connect() (*redis.Client, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	log := logger.New(logger.Config{Level: "warn", Format: "text"})

	client, err := redis.New(&cfg.Redis, log)
	if err != nil {
		return nil, nil, err
	}
	return client, log, nil
}
