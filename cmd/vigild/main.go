package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/forgelight/vigil/internal/action"
	"github.com/forgelight/vigil/internal/api"
	"github.com/forgelight/vigil/internal/cluster"
	"github.com/forgelight/vigil/internal/destination"
	"github.com/forgelight/vigil/internal/input"
	"github.com/forgelight/vigil/internal/metrics"
	"github.com/forgelight/vigil/internal/runner"
	"github.com/forgelight/vigil/internal/schedule"
	"github.com/forgelight/vigil/internal/settings"
	"github.com/forgelight/vigil/internal/store"
	"github.com/forgelight/vigil/pkg/version"
)

var (
	configFile string
	apiAddr    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "vigild",
	Short: "Vigil daemon - monitor runner for the alerting subsystem",
	Long: `Vigild schedules and executes monitors against the search cluster,
evaluates their triggers, dispatches actions, and persists alerts.`,
	RunE: runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vigild %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&apiAddr, "address", "a", "", "HTTP API listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	var cfg *Config

	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	if apiAddr != "" {
		cfg.API.Address = apiAddr
	}
	cfg.Verbose = verbose

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if cfg.Verbose && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	// Runtime settings: load once now, watch for changes while running.
	runtimeSettings := settings.Default()
	if cfg.Settings.Path != "" {
		runtimeSettings, err = settings.Load(cfg.Settings.Path)
		if err != nil {
			return fmt.Errorf("load runtime settings: %w", err)
		}
	}
	holder := settings.NewHolder(runtimeSettings.Snapshot())

	clusterTimeout, _ := cfg.ClusterTimeout()
	client, err := cluster.New(cluster.Config{
		Addresses: cfg.Cluster.Addresses,
		Username:  cfg.Cluster.Username,
		Password:  os.Getenv(EnvClusterPassword),
		Timeout:   clusterTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("create cluster client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.WithField("signal", sig).Info("shutting down")
		cancel()
	}()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("cluster unreachable: %w", err)
	}
	if err := store.EnsureIndices(ctx, client); err != nil {
		return fmt.Errorf("bootstrap alert indices: %w", err)
	}
	if err := store.EnsureConfigIndex(ctx, client); err != nil {
		return fmt.Errorf("bootstrap config index: %w", err)
	}

	alerts := store.NewAlertStore(client, logger)
	monitors := store.NewMonitorStore(client, logger)
	destinations := store.NewDestinationStore(client)

	registry := destination.NewRegistry(logger, nil)
	collector := input.NewCollector(client, logger)
	dispatcher := action.NewDispatcher(destinations, registry, logger)

	run := runner.New(client, alerts, collector, dispatcher, holder, logger)
	run.Start()
	defer run.Stop()

	pollInterval, _ := cfg.PollInterval()
	scheduler := schedule.New(monitors, run, schedule.Config{PollInterval: pollInterval}, logger)

	executeTimeout, _ := cfg.ExecuteTimeout()
	server, err := api.New(&api.Config{
		Address:        cfg.API.Address,
		ExecuteTimeout: executeTimeout,
		Verbose:        cfg.Verbose,
	}, run, client, logger)
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}

	metrics.SetBuildInfo(version.Version, version.Commit, version.BuildTime)
	logger.WithField("version", version.Version).Info("starting vigild")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	if cfg.Settings.Path != "" {
		watcher := settings.NewWatcher(cfg.Settings.Path, holder, logger)
		g.Go(func() error { return watcher.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}

	logger.Info("daemon stopped")
	return nil
}
