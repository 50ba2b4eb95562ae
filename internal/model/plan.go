package model

import "time"

// RunTimestampLayout formats a run timestamp as yyyymmdd_HHMMSS.
const RunTimestampLayout = "20060102_150405"

// RunTimestamp identifies one invocation. Every step receives the same value.
type RunTimestamp string

// NewRunTimestamp formats t in local time.
func NewRunTimestamp(t time.Time) RunTimestamp {
	return RunTimestamp(t.Local().Format(RunTimestampLayout))
}

func (r RunTimestamp) String() string { return string(r) }

// PipelineParameter is a named, overridable pipeline input.
type PipelineParameter struct {
	Name         string `json:"name"`
	DefaultValue string `json:"defaultValue"`
}

// ParameterRef returns the placeholder the platform substitutes at run time.
func ParameterRef(name string) string {
	return "$AML_PARAMETER_" + name
}

// DatasetMount attaches a registered dataset read-only under an alias.
type DatasetMount struct {
	DatasetID     string `json:"datasetId"`
	DatasetName   string `json:"datasetName"`
	Alias         string `json:"alias"`
	PathOnCompute string `json:"pathOnCompute"`
	Mode          string `json:"mode"`
}

// ExecutableStep is one step bound to its compute, environment and inputs.
type ExecutableStep struct {
	Name       string              `json:"name"`
	Script     string              `json:"script"`
	SourceDir  string              `json:"sourceDir"`
	SnapshotID string              `json:"snapshotId,omitempty"`
	Arguments  []string            `json:"arguments"`
	Parameters []PipelineParameter `json:"parameters"`
	Inputs     []DatasetMount      `json:"inputs,omitempty"`
	Compute    *ComputeTarget      `json:"compute"`
	RunConfig  *RunConfig          `json:"-"`
	AllowReuse bool                `json:"allowReuse"`
}

// SlotKind tags a slot as a single step or a parallel group.
type SlotKind string

const (
	SlotSingle   SlotKind = "single"
	SlotParallel SlotKind = "parallel"
)

// Slot is one position in the step sequence.
type Slot struct {
	Kind  SlotKind         `json:"kind"`
	Steps []ExecutableStep `json:"steps"`
}

// SingleSlot wraps one step.
func SingleSlot(step ExecutableStep) Slot {
	return Slot{Kind: SlotSingle, Steps: []ExecutableStep{step}}
}

// With returns a new slot with step appended. A single slot becomes parallel.
func (s Slot) With(step ExecutableStep) Slot {
	steps := make([]ExecutableStep, 0, len(s.Steps)+1)
	steps = append(steps, s.Steps...)
	steps = append(steps, step)
	return Slot{Kind: SlotParallel, Steps: steps}
}

// StepSequence is the ordered list of slots handed to the publisher.
type StepSequence struct {
	RunTimestamp RunTimestamp        `json:"runTimestamp"`
	Slots        []Slot              `json:"slots"`
	Parameters   []PipelineParameter `json:"parameters"`
}

// Steps returns every step in slot order.
func (s StepSequence) Steps() []ExecutableStep {
	var steps []ExecutableStep
	for _, slot := range s.Slots {
		steps = append(steps, slot.Steps...)
	}
	return steps
}

// Plan is the serializable view of a step sequence
type Plan struct {
	APIVersion string     `json:"apiVersion" yaml:"apiVersion"`
	Kind       string     `json:"kind" yaml:"kind"`
	Metadata   Metadata   `json:"metadata" yaml:"metadata"`
	Spec       PlanSpec   `json:"spec" yaml:"spec"`
	Slots      []PlanSlot `json:"slots" yaml:"slots"`
}

// PlanSpec holds pipeline-level settings of the plan
type PlanSpec struct {
	Experiment   string            `json:"experiment" yaml:"experiment"`
	Pipeline     string            `json:"pipeline" yaml:"pipeline"`
	Version      string            `json:"version" yaml:"version"`
	Endpoint     string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	RunTimestamp string            `json:"runTimestamp" yaml:"runTimestamp"`
	Environment  string            `json:"environment" yaml:"environment"`
	Parameters   map[string]string `json:"parameters" yaml:"parameters"`
}

// PlanSlot is a slot in the plan
type PlanSlot struct {
	Index int        `json:"index" yaml:"index"`
	Kind  string     `json:"kind" yaml:"kind"`
	Steps []PlanStep `json:"steps" yaml:"steps"`
}

// PlanStep is a step in the plan
type PlanStep struct {
	Name      string            `json:"name" yaml:"name"`
	Script    string            `json:"script" yaml:"script"`
	SourceDir string            `json:"sourceDir" yaml:"sourceDir"`
	Compute   string            `json:"compute" yaml:"compute"`
	Arguments []string          `json:"arguments" yaml:"arguments"`
	Inputs    map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// PipelineDefinition is what gets published as a versioned pipeline.
type PipelineDefinition struct {
	Name        string
	Description string
	Version     string
	Experiment  string
	Sequence    *StepSequence
	Properties  map[string]string
}
