package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maltedev/bluray-scraper/internal/app"
)

var relayFlags struct {
	requeue bool
	record  string
}

func init() {
	relayCmd.Flags().BoolVar(&relayFlags.requeue, "requeue-dead-letters", false, "move dead-lettered events back to pending before relaying")
	relayCmd.Flags().StringVar(&relayFlags.record, "record", "", "only requeue events of the record with this source url")
	rootCmd.AddCommand(relayCmd)
}

var relayCmd = &cobra.Command{
	Use:   "relay [--requeue-dead-letters [--record URL]]",
	Short: "Publishes pending outbox events to the Redis stream until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if relayFlags.record != "" && !relayFlags.requeue {
			return errors.New("--record requires --requeue-dead-letters")
		}

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		c, err := app.BuildRelay(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer c.Close()

		if relayFlags.requeue {
			n, err := c.Outbox.RequeueDeadLetters(ctx, relayFlags.record)
			if err != nil {
				return fmt.Errorf("requeue failed: %w", err)
			}
			log.Info("requeued dead letters", "events", n, "record", relayFlags.record)
		}

		if err := c.Relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
