package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tourwise/gatekeeper/internal/infra/redis"
)

var blockDuration time.Duration

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Manage temporary IP blocks",
}

var blockStatusCmd = &cobra.Command{
	Use:   "status <ip>",
	Short: "Show whether an IP is currently blocked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, log, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		store, err := redis.NewThrottleStore(client, log)
		if err != nil {
			return err
		}

		until, blocked, err := store.BlockedUntil(context.Background(), args[0])
		if err != nil {
			return err
		}

		if !blocked {
			fmt.Printf("%s is not blocked\n", args[0])
			return nil
		}
		fmt.Printf("%s is blocked until %s (%s remaining)\n",
			args[0],
			until.UTC().Format(time.RFC3339),
			time.Until(until).Round(time.Second),
		)
		return nil
	},
}

var blockAddCmd = &cobra.Command{
	Use:   "add <ip>",
	Short: "Block an IP for a fixed duration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, log, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		store, err := redis.NewThrottleStore(client, log)
		if err != nil {
			return err
		}

		if err := store.Block(context.Background(), args[0], blockDuration); err != nil {
			return err
		}
		fmt.Printf("blocked %s for %s\n", args[0], blockDuration)
		return nil
	},
}

var blockRemoveCmd = &cobra.Command{
	Use:   "remove <ip>",
	Short: "Lift a block ahead of its expiry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, log, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		store, err := redis.NewThrottleStore(client, log)
		if err != nil {
			return err
		}

		if err := store.Unblock(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("unblocked %s\n", args[0])
		return nil
	},
}

func init() {
	blockAddCmd.Flags().DurationVar(&blockDuration, "duration", time.Hour, "block duration")

	blockCmd.AddCommand(blockStatusCmd)
	blockCmd.AddCommand(blockAddCmd)
	blockCmd.AddCommand(blockRemoveCmd)
}
