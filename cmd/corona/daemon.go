package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/relay/internal/cache"
	"github.com/oriys/relay/internal/clock"
	"github.com/oriys/relay/internal/cleanup"
	"github.com/oriys/relay/internal/config"
	"github.com/oriys/relay/internal/dispatcher"
	"github.com/oriys/relay/internal/executor"
	"github.com/oriys/relay/internal/leaserunner"
	"github.com/oriys/relay/internal/lifecycle"
	"github.com/oriys/relay/internal/logging"
	"github.com/oriys/relay/internal/metrics"
	"github.com/oriys/relay/internal/observability"
	"github.com/oriys/relay/internal/queue"
	"github.com/oriys/relay/internal/router"
	"github.com/oriys/relay/internal/store"
	"github.com/oriys/relay/internal/storeprovider"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func daemonCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the outbox/inbox dispatcher daemon",
		Long:  "Run the multi-store dispatcher, cleanup worker, and coordination lease against a fleet of tenant databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("pg-dsn") {
				cfg.Postgres.DSN = pgDSN
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if cfg.Observability.Tracing.ServiceName == "" {
				cfg.Observability.Tracing.ServiceName = "corona"
			}
			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.Init(cfg.Observability.Metrics.Namespace)
				go serveMetrics(cfg.Daemon.MetricsAddr)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			provider, err := buildStoreProvider(ctx, cfg)
			if err != nil {
				return fmt.Errorf("build store provider: %w", err)
			}
			defer provider.Close()

			var controlPlane lifecycle.ControlPlaneChecker
			if cfg.ControlPlane.ConnectionString != "" {
				controlPlane = newControlPlanePinger(cfg.ControlPlane.ConnectionString)
			}
			validator := &lifecycle.Validator{Discovery: cfg.Discovery, ControlPlane: controlPlane, Timeout: 5 * time.Second}
			if err := validator.Validate(ctx, lifecycle.FromStoreProvider(provider)); err != nil {
				return fmt.Errorf("startup preconditions failed: %w", err)
			}

			rtr := router.New(provider.Current())

			resolver, closeHandlers, err := buildResolver(cfg)
			if err != nil {
				return fmt.Errorf("build handler resolver: %w", err)
			}
			defer closeHandlers()

			strategy := selectionStrategy(cfg.Dispatcher.SelectionStrategy)
			dispatchCfg := dispatcher.Config{
				BatchSize:     cfg.Dispatcher.BatchSize,
				LeaseDuration: cfg.Dispatcher.LeaseDuration,
				MaxAttempts:   cfg.Dispatcher.MaxAttempts,
				Backoff:       dispatcher.ExponentialBackoff(time.Duration(cfg.Dispatcher.BackoffBaseMS)*time.Millisecond, time.Duration(cfg.Dispatcher.BackoffMaxMS)*time.Millisecond),
				OwnerPrefix:   cfg.Dispatcher.OwnerPrefix,
			}
			outboxDispatcher := dispatcher.NewOutboxDispatcher(rtr, resolver, strategy, dispatchCfg)
			inboxDispatcher := dispatcher.NewInboxDispatcher(rtr, resolver, strategy, dispatchCfg)

			notifier := queue.NewChannelNotifier()
			defer notifier.Close()

			cleaner := cleanup.New(cleanup.FromStoreProvider(provider), cfg.Cleanup.Interval, cfg.Cleanup.RetentionPeriod)
			cleaner.Start(ctx)
			defer cleaner.Stop()

			stores := provider.Current()
			if len(stores) == 0 {
				logging.Op().Warn("no stores resolved; running cleanup only, lease and dispatch not started", "discovery", cfg.Discovery.UsesDiscovery)
				<-ctx.Done()
				return nil
			}

			lease, err := leaserunner.Acquire(ctx, stores[0], clock.Real{}, cfg.Lease.Name, dispatcher.NewOwnerToken(cfg.Dispatcher.OwnerPrefix), cfg.Lease.Duration, cfg.Lease.RenewPercent)
			if err != nil {
				return fmt.Errorf("acquire dispatch lease: %w", err)
			}
			if lease == nil {
				logging.Op().Info("dispatch lease held elsewhere; running cleanup only, dispatch not started", "lease", cfg.Lease.Name)
				<-ctx.Done()
				return nil
			}
			defer lease.Dispose()

			runCtx, cancelRun := context.WithCancel(ctx)
			go func() {
				select {
				case <-lease.Done():
					logging.Op().Error("dispatch lease lost, stopping dispatch loops", "lease", cfg.Lease.Name)
					cancelRun()
				case <-runCtx.Done():
				}
			}()

			go dispatcher.RunLoop(runCtx, outboxDispatcher, notifier, queue.QueueOutbox, cfg.Dispatcher.PollInterval, cfg.Dispatcher.BatchSize)
			go dispatcher.RunLoop(runCtx, inboxDispatcher, notifier, queue.QueueInbox, cfg.Dispatcher.PollInterval, cfg.Dispatcher.BatchSize)

			logging.Op().Info("corona dispatcher daemon started", "lease", cfg.Lease.Name, "discovery", cfg.Discovery.UsesDiscovery)

			<-ctx.Done()
			logging.Op().Info("shutdown signal received")
			cancelRun()
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Current().Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logging.Op().Error("metrics server exited", "error", err)
	}
}

// buildStoreProvider constructs either a ConfiguredProvider (static list)
// or a DynamicProvider (periodic re-discovery), per the Discovery config's
// UsesDiscovery toggle (SPEC_FULL.md §4.7, §4.9).
func buildStoreProvider(ctx context.Context, cfg *config.Config) (storeprovider.Provider, error) {
	if !cfg.Discovery.UsesDiscovery {
		cfgs := cfg.Discovery.StaticDatabases
		if len(cfgs) == 0 {
			cfgs = []config.PostgresConfig{cfg.Postgres}
		}
		return storeprovider.NewConfiguredProvider(ctx, cfgs)
	}

	var discovery storeprovider.Discovery
	if cfg.Discovery.RDS.Enabled {
		rds, err := storeprovider.NewRDSDiscovery(ctx, cfg.Discovery.RDS)
		if err != nil {
			return nil, fmt.Errorf("init RDS discovery: %w", err)
		}
		discovery = rds
	} else {
		discovery = storeprovider.NewStaticDiscovery(cfg.Discovery.StaticDatabases)
	}

	if cfg.Discovery.CacheRedisAddr != "" {
		redisCache := cache.NewRedisCache(cache.RedisCacheConfig{Addr: cfg.Discovery.CacheRedisAddr, KeyPrefix: "relay:discovery:"})
		discovery = storeprovider.NewCachingDiscovery(discovery, redisCache, "store-discovery", cfg.Discovery.RefreshInterval*3)
	}

	return storeprovider.NewDynamicProvider(ctx, discovery, cfg.Discovery.RefreshInterval, clock.Real{}, nil)
}

// buildResolver registers one RemoteHandler per configured executor topic,
// sharing a single dialed gRPC connection (§4.6's RemoteHandler port
// addition). With no executor configured, the resolver starts empty: every
// claimed row fails with "no handler" until a caller embedding this daemon
// registers its own handlers before Run is first invoked.
func buildResolver(cfg *config.Config) (*dispatcher.Resolver, func(), error) {
	if cfg.Executor.GRPCAddr == "" || len(cfg.Executor.Topics) == 0 {
		return dispatcher.NewResolver(), func() {}, nil
	}

	conn, err := grpc.NewClient(cfg.Executor.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dial executor %s: %w", cfg.Executor.GRPCAddr, err)
	}

	handlers := make([]dispatcher.Handler, 0, len(cfg.Executor.Topics))
	for _, topic := range cfg.Executor.Topics {
		handlers = append(handlers, executor.NewRemoteHandlerFromConn(topic, conn))
	}

	resolver := dispatcher.NewResolver(handlers...)
	closeFn := func() { _ = conn.Close() }
	return resolver, closeFn, nil
}

func selectionStrategy(name string) dispatcher.SelectionStrategy {
	if name == "drain_first" {
		return dispatcher.NewDrainFirst()
	}
	return dispatcher.NewRoundRobin()
}

// controlPlanePinger implements lifecycle.ControlPlaneChecker over a second
// PostgresStore pointed at the control-plane database, following the
// teacher's pattern of treating the control plane as just another
// reachability check rather than a distinct client type.
type controlPlanePinger struct {
	dsn string
}

func newControlPlanePinger(dsn string) *controlPlanePinger {
	return &controlPlanePinger{dsn: dsn}
}

func (p *controlPlanePinger) Ping(ctx context.Context) error {
	s, err := store.NewPostgresStore(ctx, p.dsn, "control-plane")
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Ping(ctx)
}
