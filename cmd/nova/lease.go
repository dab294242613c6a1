package main

import (
	"context"
	"fmt"

	"github.com/oriys/relay/internal/store"
	"github.com/spf13/cobra"
)

// leaseCmd inspects a named coordination lease without touching it,
// for confirming which owner currently holds dispatch duty and when
// it expires.
func leaseCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Inspect a coordination lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			s, err := getStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			row, err := s.GetLease(context.Background(), name)
			if err != nil {
				return fmt.Errorf("get lease: %w", err)
			}

			printLease(row)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Lease name (required)")
	return cmd
}

func printLease(row *store.LeaseRow) {
	fmt.Printf("name:       %s\n", row.Name)
	fmt.Printf("owner:      %s\n", row.Owner)
	fmt.Printf("expires:    %s\n", row.ExpiresUtc.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("fencing:    %d\n", row.Fencing)
}
