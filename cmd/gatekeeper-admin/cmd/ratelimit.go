package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tourwise/gatekeeper/internal/admission"
	"github.com/tourwise/gatekeeper/internal/infra/redis"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Manage rate-limit windows",
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset <tier> <identifier>",
	Short: "Clear an identifier's current window, restoring full quota",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, log, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		store, err := redis.NewWindowStore(client, log)
		if err != nil {
			return err
		}

		key := admission.Key(args[1], admission.Tier(args[0]))
		if err := store.Reset(context.Background(), key); err != nil {
			return err
		}
		fmt.Printf("reset window %s\n", key)
		return nil
	},
}

func init() {
	ratelimitCmd.AddCommand(ratelimitResetCmd)
}
