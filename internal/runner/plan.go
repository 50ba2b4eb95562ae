package runner

import (
	"context"

	"github.com/sourceplane/mlpipe/internal/model"
	"github.com/sourceplane/mlpipe/internal/planner"
)

// ProvisioningPlanned marks placeholder compute targets in offline plans.
const ProvisioningPlanned = "Planned"

// placeholderDatasets resolves every dataset name without a workspace.
type placeholderDatasets struct{}

func (placeholderDatasets) GetDatasetByName(_ context.Context, name string) (*model.Dataset, bool, error) {
	return &model.Dataset{Name: name}, true, nil
}

// Plan sequences the pipeline without touching the workspace. Every declared
// pool becomes a placeholder target and every input dataset is assumed to exist.
func (r *Runner) Plan(ctx context.Context, cfg *model.PipelineConfig) (*model.StepSequence, error) {
	spec := cfg.Spec
	if err := planner.CheckSteps(spec.Steps); err != nil {
		return nil, err
	}

	targets := make(map[string]*model.ComputeTarget)
	for _, pool := range spec.Compute.Pools() {
		targets[pool.Name] = &model.ComputeTarget{
			Name:              pool.Name,
			VMSize:            pool.Sizing.VMSize,
			Priority:          pool.Sizing.Priority,
			MinNodes:          pool.Sizing.Min,
			MaxNodes:          pool.Sizing.Max,
			ProvisioningState: ProvisioningPlanned,
		}
	}

	runConfig := &model.RunConfig{
		Environment: model.Environment{Name: spec.Environment.Name},
		UseDocker:   spec.Environment.Docker != nil,
	}

	return planner.NewSequencer(placeholderDatasets{}, r.Logger).Sequence(ctx, planner.Input{
		Steps:           spec.Steps,
		SourceDirPrefix: spec.SourceDirPrefix,
		RunTimestamp:    model.NewRunTimestamp(r.Now()),
		Targets:         targets,
		RunConfig:       runConfig,
	})
}
