// Command analyzd runs the analysis orchestration daemon: the HTTP API,
// the scheduler, and the result-handler bus subscription.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
	"github.com/fyrsmithlabs/analyzd/internal/bus"
	"github.com/fyrsmithlabs/analyzd/internal/config"
	"github.com/fyrsmithlabs/analyzd/internal/discovery"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
	"github.com/fyrsmithlabs/analyzd/internal/orchestrator"
	"github.com/fyrsmithlabs/analyzd/internal/server"
	"github.com/fyrsmithlabs/analyzd/internal/store"
	"github.com/fyrsmithlabs/analyzd/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "analyzd",
		Short:         "Asynchronous repository analysis orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestration daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(runCmd, versionCmd)
	return root
}

func run(configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "starting analyzd", zap.String("version", version))

	st, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	nc, err := bus.Connect(cfg.NATS)
	if err != nil {
		return err
	}
	defer nc.Close()
	messageBus := bus.New(nc, logger)

	metrics := telemetry.New(prometheus.DefaultRegisterer)
	correlation := orchestrator.NewCorrelation()
	prompts := analysis.NewPromptRegistry()

	resultHandler := orchestrator.NewResultHandler(st, correlation, logger)
	resultsSub, err := messageBus.SubscribeResults(func(r *bus.JobResult) {
		resultHandler.Handle(ctx, r)
	})
	if err != nil {
		return err
	}
	defer func() { _ = resultsSub.Unsubscribe() }()

	consolidator := orchestrator.NewConsolidator(st, metrics, logger)
	scheduler := orchestrator.NewScheduler(
		orchestrator.Config{
			PollInterval:        cfg.Orchestrator.PollInterval.Duration(),
			MaxParallelRequests: cfg.Orchestrator.MaxParallelRequests,
			MaxJobRetries:       cfg.Orchestrator.MaxJobRetries,
			DependencyThreshold: cfg.Orchestrator.DependencyThreshold,
			DependencyBatchSize: cfg.Orchestrator.DependencyBatchSize,
			DispatchRate:        cfg.Orchestrator.DispatchRate,
			DispatchBurst:       cfg.Orchestrator.DispatchBurst,
		},
		st,
		messageBus,
		discovery.New(cfg.Discovery, logger),
		consolidator,
		prompts,
		correlation,
		metrics,
		logger,
	)

	api := server.New(cfg.Server, st, consolidator, correlation, prompts, logger)

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() { serverErr <- api.Start() }()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-serverErr:
		stop()
		if err != nil {
			logger.Error(context.Background(), "http server failed", zap.Error(err))
		}
	}

	if err := api.Shutdown(context.Background()); err != nil {
		logger.Warn(context.Background(), "http shutdown incomplete", zap.Error(err))
	}
	<-schedulerDone
	logger.Info(context.Background(), "analyzd stopped")
	return nil
}
