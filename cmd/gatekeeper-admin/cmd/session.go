package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tourwise/gatekeeper/internal/infra/redis"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage device-bound sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's live sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, log, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		store, err := redis.NewSessionStore(client, log)
		if err != nil {
			return err
		}

		records, err := store.List(context.Background(), args[0])
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("no live sessions")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%s  device_ip=%s  last_activity=%s  expires=%s\n",
				rec.ID,
				rec.DeviceIP,
				rec.LastActivity.UTC().Format(time.RFC3339),
				rec.ExpiresAt.UTC().Format(time.RFC3339),
			)
		}
		return nil
	},
}

var sessionRevokeCmd = &cobra.Command{
	Use:   "revoke <session-id>",
	Short: "Revoke a single session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, log, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		store, err := redis.NewSessionStore(client, log)
		if err != nil {
			return err
		}

		existed, err := store.Revoke(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !existed {
			fmt.Println("session not found")
			return nil
		}
		fmt.Println("session revoked")
		return nil
	},
}

var sessionRevokeAllCmd = &cobra.Command{
	Use:   "revoke-all <user-id>",
	Short: "Revoke every session of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, log, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		store, err := redis.NewSessionStore(client, log)
		if err != nil {
			return err
		}

		count, err := store.RevokeAll(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("revoked %d session(s)\n", count)
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionRevokeCmd)
	sessionCmd.AddCommand(sessionRevokeAllCmd)
}
