package main

import (
	"fmt"

	"github.com/sourceplane/mlpipe/internal/loader"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the pipeline config without contacting Azure",
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateConfig()
	},
}

func registerValidateCommand(root *cobra.Command) {
	root.AddCommand(validateCmd)
}

func validateConfig() error {
	fmt.Println("□ Validating pipeline config...")
	cfg, err := loader.LoadPipelineConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("✓ %s is valid (%d steps, %d compute pools)\n", configPath, len(cfg.Spec.Steps), len(cfg.Spec.Compute.Pools()))
	return nil
}
