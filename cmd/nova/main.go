package main

import (
	"context"
	"fmt"
	"os"

	"github.com/oriys/relay/internal/config"
	"github.com/oriys/relay/internal/store"
	"github.com/spf13/cobra"
)

var (
	pgDSN      string
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relayctl",
		Short: "Administrative CLI for the outbox/inbox dispatcher",
		Long:  "Probe the dispatcher's stores directly: enqueue test work, resolve the router, inspect a coordination lease",
	}

	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN (overrides config/env)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, flags override)")

	rootCmd.AddCommand(
		enqueueCmd(),
		routerCmd(),
		leaseCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getStore opens a single PostgresStore against the resolved DSN (file ->
// env -> --pg-dsn flag, in increasing priority), following the teacher's
// cmd/nova/util.go getStore helper.
func getStore() (*store.PostgresStore, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	if pgDSN != "" {
		cfg.Postgres.DSN = pgDSN
	}

	name := cfg.Postgres.Name
	if name == "" {
		name = cfg.Postgres.DSN
	}
	return store.NewPostgresStore(context.Background(), cfg.Postgres.DSN, name)
}
