package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourceplane/mlpipe/internal/loader"
	"github.com/sourceplane/mlpipe/internal/runner"
	"github.com/sourceplane/mlpipe/internal/workspace"
)

func deployPipeline(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	fmt.Println("□ Loading pipeline config...")
	cfg, err := loader.LoadPipelineConfig(configPath)
	if err != nil {
		return err
	}

	r, err := newRunner()
	if err != nil {
		return err
	}

	if _, err := r.Run(ctx, cfg); err != nil {
		return err
	}
	fmt.Println("✓ Deployment complete")
	return nil
}

// newRunner wires the runner to Azure using settings from the environment.
func newRunner() (*runner.Runner, error) {
	s, err := loadSettings(os.Getenv)
	if err != nil {
		return nil, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	connect := runner.AzureConnector(workspace.Options{
		WorkDir:       wd,
		ClientOptions: s.clientOptions(),
		Logger:        logger,
	})
	r := runner.NewRunner(connect, wd, os.Stdout, logger)
	r.ComputeOptions.Timeout = s.ComputeTimeout
	return r, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
