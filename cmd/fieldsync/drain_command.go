package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fieldsync/internal/ipc"
)

func newDrainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Trigger an immediate drain of the mutation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Drain()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !resp.Ran {
					fmt.Fprintf(out, "Drain skipped: %s\n", resp.Message)
					return nil
				}
				if resp.Attempted == 0 {
					fmt.Fprintln(out, "Queue is empty; nothing to drain")
					return nil
				}
				fmt.Fprintf(out, "Drain finished: %d delivered, %d failed (of %d attempted)\n",
					resp.Processed, resp.Failed, resp.Attempted)
				return nil
			})
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test push notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}
}
