// Command analyzd-worker runs a remote analysis worker: it joins the
// dispatch queue group, executes analysis prompts against the model
// backend, and publishes results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/analyzd/internal/bus"
	"github.com/fyrsmithlabs/analyzd/internal/config"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
	"github.com/fyrsmithlabs/analyzd/internal/worker"
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
		Use:           "analyzd-worker",
		Short:         "Remote analysis worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker",
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

	logger.Info(ctx, "starting analyzd-worker",
		zap.String("version", version),
		zap.String("model", cfg.Worker.Model))

	nc, err := bus.Connect(cfg.NATS)
	if err != nil {
		return err
	}
	defer nc.Close()
	messageBus := bus.New(nc, logger)

	executor, err := worker.NewOpenAIExecutor(cfg.Worker)
	if err != nil {
		return err
	}

	return worker.New(messageBus, executor, logger).Run(ctx, messageBus)
}
