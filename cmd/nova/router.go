package main

import (
	"fmt"

	"github.com/oriys/relay/internal/router"
	"github.com/oriys/relay/internal/store"
	"github.com/spf13/cobra"
)

// routerCmd resolves the configured store into a Router and prints the
// keys it exposes, a quick way to confirm a deployment's Identifier()
// matches what operators expect before pointing a dispatcher at it.
func routerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "router",
		Short: "Print the store keys a Router would resolve against this config",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			rtr := router.New([]*store.PostgresStore{s})
			for _, key := range rtr.Keys() {
				fmt.Println(key)
			}
			return nil
		},
	}
}
