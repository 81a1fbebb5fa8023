package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"parcel/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Publish a test event to the configured notification transports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notifications.WebhookURL == "" && len(cfg.Notifications.KafkaBrokers) == 0 {
				return errors.New("no notification transport configured (set notifications.webhook_url or kafka_brokers)")
			}
			svc := notifications.NewService(cfg)
			defer notifications.Close(svc)
			payload := notifications.Payload{"message": "parcel notification test"}
			if err := svc.Publish(cmd.Context(), notifications.EventTest, payload); err != nil {
				return fmt.Errorf("publish test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}
