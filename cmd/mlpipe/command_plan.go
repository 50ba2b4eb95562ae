package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sourceplane/mlpipe/internal/loader"
	"github.com/sourceplane/mlpipe/internal/render"
	"github.com/sourceplane/mlpipe/internal/runner"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Sequence the pipeline offline and show the resulting slots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return generatePlan(cmd.Context())
	},
}

func registerPlanCommand(root *cobra.Command) {
	root.AddCommand(planCmd)

	planCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the plan to a file (json or yaml by extension)")
	planCmd.Flags().BoolVarP(&viewPlan, "view", "v", true, "Print the slot tree")
}

func generatePlan(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Println("□ Loading pipeline config...")
	cfg, err := loader.LoadPipelineConfig(configPath)
	if err != nil {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}

	fmt.Println("□ Sequencing steps...")
	seq, err := runner.NewRunner(nil, wd, os.Stdout, logger).Plan(ctx, cfg)
	if err != nil {
		return err
	}

	renderer := render.NewRenderer()
	plan := renderer.RenderPlan(cfg, seq)

	if outputFile != "" {
		if err := renderer.WritePlan(plan, outputFile); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
		fmt.Printf("✓ Saved to: %s\n", outputFile)
	}

	fmt.Printf("✓ Plan generated with %d slots\n", len(plan.Slots))
	if viewPlan {
		fmt.Println("\n" + render.NewPlanViewer(plan).ViewSlots())
	}
	return nil
}
