package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	outputFile string
	viewPlan   bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mlpipe",
	Short: "Deploy Azure ML pipelines from a declarative config",
	Long: "mlpipe provisions compute, builds the environment, sequences the configured steps " +
		"and publishes them as an Azure ML pipeline, optionally behind a pipeline endpoint.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(os.Getenv, os.Stderr)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return deployPipeline(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Path to the pipeline config document (JSON or YAML)")
	rootCmd.MarkPersistentFlagRequired("config-path")

	registerValidateCommand(rootCmd)
	registerPlanCommand(rootCmd)
	registerDatastoresCommand(rootCmd)
}
