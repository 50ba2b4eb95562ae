package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sourceplane/mlpipe/internal/model"
	"gopkg.in/yaml.v3"
)

// KindPlan is the kind of a rendered plan document.
const KindPlan = "MLPipelinePlan"

// Renderer materializes a step sequence into a Plan
type Renderer struct{}

// NewRenderer creates a new renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderPlan creates a plan from the pipeline document and its sequenced steps
func (r *Renderer) RenderPlan(cfg *model.PipelineConfig, seq *model.StepSequence) *model.Plan {
	spec := cfg.Spec
	plan := &model.Plan{
		APIVersion: model.APIVersion,
		Kind:       KindPlan,
		Metadata: model.Metadata{
			Name:        cfg.Metadata.Name,
			Description: cfg.Metadata.Description,
		},
		Spec: model.PlanSpec{
			Experiment:   spec.Experiment,
			Pipeline:     spec.Pipeline.Name,
			Version:      spec.Pipeline.Version,
			RunTimestamp: seq.RunTimestamp.String(),
			Environment:  spec.Environment.Name,
			Parameters:   make(map[string]string, len(seq.Parameters)),
		},
		Slots: make([]model.PlanSlot, 0, len(seq.Slots)),
	}
	if spec.Endpoint.Deploy {
		plan.Spec.Endpoint = spec.Endpoint.Name
	}
	for _, p := range seq.Parameters {
		plan.Spec.Parameters[p.Name] = p.DefaultValue
	}

	for i, slot := range seq.Slots {
		plan.Slots = append(plan.Slots, model.PlanSlot{
			Index: i,
			Kind:  string(slot.Kind),
			Steps: r.convertSteps(slot.Steps),
		})
	}

	return plan
}

// convertSteps converts executable steps to plan steps
func (r *Renderer) convertSteps(steps []model.ExecutableStep) []model.PlanStep {
	planSteps := make([]model.PlanStep, len(steps))
	for i, step := range steps {
		planSteps[i] = model.PlanStep{
			Name:      step.Name,
			Script:    step.Script,
			SourceDir: step.SourceDir,
			Arguments: step.Arguments,
		}
		if step.Compute != nil {
			planSteps[i].Compute = step.Compute.Name
		}
		if len(step.Inputs) > 0 {
			planSteps[i].Inputs = make(map[string]string, len(step.Inputs))
			for _, in := range step.Inputs {
				planSteps[i].Inputs[in.Alias] = in.DatasetName
			}
		}
	}
	return planSteps
}

// RenderJSON renders plan as JSON
func (r *Renderer) RenderJSON(plan *model.Plan) ([]byte, error) {
	return json.MarshalIndent(plan, "", "  ")
}

// RenderYAML renders plan as YAML
func (r *Renderer) RenderYAML(plan *model.Plan) ([]byte, error) {
	return yaml.Marshal(plan)
}

// WritePlan writes plan to file (JSON or YAML based on extension)
func (r *Renderer) WritePlan(plan *model.Plan, path string) error {
	var data []byte
	var err error

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = r.RenderYAML(plan)
	default:
		data, err = r.RenderJSON(plan)
	}
	if err != nil {
		return fmt.Errorf("failed to render plan: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan to %s: %w", path, err)
	}

	return nil
}
