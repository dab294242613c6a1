package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// enqueueCmd enqueues a single outbox row against the configured store, for
// smoke-testing a deployment's claim/dispatch path end to end without
// waiting on a real producer.
func enqueueCmd() *cobra.Command {
	var (
		topic   string
		payload string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a probe message into the outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topic == "" {
				return fmt.Errorf("--topic is required")
			}

			s, err := getStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			id, err := s.Enqueue(context.Background(), topic, []byte(payload), nil, nil)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}

			fmt.Printf("enqueued outbox row %s (topic=%s store=%s)\n", id, topic, s.Identifier())
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic the probe message targets (required)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "Raw payload bytes to enqueue")
	return cmd
}
