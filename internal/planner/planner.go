package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sourceplane/mlpipe/internal/expand"
	"github.com/sourceplane/mlpipe/internal/model"
)

// DatasetRegistry resolves registered datasets by name.
type DatasetRegistry interface {
	GetDatasetByName(ctx context.Context, name string) (*model.Dataset, bool, error)
}

// Input is everything the sequencer binds steps to.
type Input struct {
	Steps           []model.StepSpec
	SourceDirPrefix string
	RunTimestamp    model.RunTimestamp
	// Targets maps a pool name to its ready compute target.
	Targets   map[string]*model.ComputeTarget
	RunConfig *model.RunConfig
	// Snapshots maps a source directory to its uploaded snapshot id.
	Snapshots map[string]string
}

// Sequencer turns declared steps into an ordered step sequence
type Sequencer struct {
	datasets DatasetRegistry
	logger   *slog.Logger
}

// NewSequencer creates a new sequencer
func NewSequencer(datasets DatasetRegistry, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{datasets: datasets, logger: logger}
}

// Sequence binds every step to its compute target, environment and inputs and
// groups steps flagged runWithPrevious with the slot before them.
func (s *Sequencer) Sequence(ctx context.Context, in Input) (*model.StepSequence, error) {
	if err := CheckSteps(in.Steps); err != nil {
		return nil, err
	}

	instances := expand.NewExpander(in.SourceDirPrefix, in.RunTimestamp).Expand(in.Steps)

	flagged := make([]bool, 0, len(instances))
	steps := make([]model.ExecutableStep, 0, len(instances))
	for _, inst := range instances {
		step, err := s.bind(ctx, inst, in)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
		flagged = append(flagged, inst.Spec.RunWithPrevious)
	}

	slots := GroupSlots(steps, flagged)
	s.logger.Info("steps sequenced", "steps", len(steps), "slots", len(slots), "run_datetime", in.RunTimestamp.String())

	return &model.StepSequence{
		RunTimestamp: in.RunTimestamp,
		Slots:        slots,
		Parameters:   expand.PipelineParameters(instances),
	}, nil
}

// CheckSteps reports step lists that cannot be sequenced at all.
func CheckSteps(steps []model.StepSpec) error {
	if len(steps) == 0 {
		return model.ErrConfiguration("pipeline has no steps")
	}
	if steps[0].RunWithPrevious {
		return model.ErrConfiguration("step %q: the first step cannot run with previous", steps[0].Name)
	}
	return nil
}

func (s *Sequencer) bind(ctx context.Context, inst expand.StepInstance, in Input) (model.ExecutableStep, error) {
	target, ok := in.Targets[inst.Spec.Compute]
	if !ok || target == nil {
		return model.ExecutableStep{}, fmt.Errorf("step %s: no compute target resolved for pool %s", inst.Spec.Name, inst.Spec.Compute)
	}

	mounts, err := s.resolveInputs(ctx, inst.Spec)
	if err != nil {
		return model.ExecutableStep{}, err
	}

	s.logger.Debug("step bound",
		"step", inst.Spec.Name,
		"compute", target.Name,
		"inputs", len(mounts),
		"run_with_previous", inst.Spec.RunWithPrevious)

	return model.ExecutableStep{
		Name:       inst.Spec.Name,
		Script:     inst.Spec.Script,
		SourceDir:  inst.SourceDir,
		SnapshotID: in.Snapshots[inst.SourceDir],
		Arguments:  inst.Arguments,
		Parameters: inst.Parameters,
		Inputs:     mounts,
		Compute:    target,
		RunConfig:  in.RunConfig,
		AllowReuse: false,
	}, nil
}

// resolveInputs mounts each input dataset read-only at its alias, ordered by dataset name.
func (s *Sequencer) resolveInputs(ctx context.Context, step model.StepSpec) ([]model.DatasetMount, error) {
	if len(step.InputDatasets) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(step.InputDatasets))
	for name := range step.InputDatasets {
		names = append(names, name)
	}
	sort.Strings(names)

	mounts := make([]model.DatasetMount, 0, len(names))
	for _, name := range names {
		ds, found, err := s.datasets.GetDatasetByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up dataset %s for step %s: %w", name, step.Name, err)
		}
		if !found {
			return nil, fmt.Errorf("step %s: dataset %s is not registered in the workspace", step.Name, name)
		}
		alias := step.InputDatasets[name]
		mounts = append(mounts, model.DatasetMount{
			DatasetID:     ds.ID,
			DatasetName:   ds.Name,
			Alias:         alias,
			PathOnCompute: alias,
			Mode:          "mount",
		})
	}
	return mounts, nil
}
