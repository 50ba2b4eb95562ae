package normalize

import (
	"sort"
	"strings"

	"github.com/sourceplane/mlpipe/internal/model"
	"github.com/sourceplane/mlpipe/internal/schedule"
)

// Defaults applied to pipeline documents.
const (
	DefaultPipelineVersion  = "1.0"
	DefaultRequirementsFile = "deployment/pipeline_requirements.txt"
)

// DefaultVMSizes maps a hardware class to its default VM size.
var DefaultVMSizes = map[string]string{
	model.HardwareCPU: "STANDARD_DS3_V2",
	model.HardwareGPU: "STANDARD_NC6",
}

// NormalizePipeline returns a copy of cfg with defaults applied. All semantic
// problems are collected into a single *model.ConfigurationError.
func NormalizePipeline(cfg *model.PipelineConfig) (*model.PipelineConfig, error) {
	if cfg == nil {
		return nil, model.ErrConfiguration("pipeline config cannot be nil")
	}

	issues := &model.ConfigurationError{}
	out := *cfg
	spec := &out.Spec

	if spec.Pipeline.Version == "" {
		spec.Pipeline.Version = DefaultPipelineVersion
	}
	if spec.Environment.RequirementsFile == "" {
		spec.Environment.RequirementsFile = DefaultRequirementsFile
	}

	if !spec.Workspace.Auth.Valid() {
		issues.Add("workspace auth mode %q must be one of from_config, interactive, service_principal, managed_identity", spec.Workspace.Auth)
	}

	checkEndpoint(spec.Endpoint, issues)
	checkEnvironment(spec.Environment, issues)
	spec.Compute = normalizeCompute(spec.Compute, issues)
	spec.Steps = normalizeSteps(spec.Steps, spec.Compute, issues)

	if err := issues.OrNil(); err != nil {
		return nil, err
	}
	return &out, nil
}

func checkEndpoint(ep model.EndpointSpec, issues *model.ConfigurationError) {
	if ep.Deploy && ep.Name == "" {
		issues.Add("endpoint name is required when deploy is enabled")
	}
	if ep.RunInstantly && !ep.Deploy {
		issues.Add("endpoint runInstantly requires deploy")
	}
	if ep.Schedule != "" {
		if !ep.Deploy {
			issues.Add("endpoint schedule requires deploy")
		}
		if _, err := schedule.Parse(ep.Schedule); err != nil {
			issues.Add("%v", err)
		}
	}
}

func checkEnvironment(env model.EnvironmentSpec, issues *model.ConfigurationError) {
	if env.Name == "" {
		issues.Add("environment name is required")
	}
	if env.Docker != nil {
		if env.Curated != "" {
			issues.Add("environment %q: curated and docker are mutually exclusive", env.Name)
		}
		if env.Docker.Image == "" || env.Docker.Registry == "" {
			issues.Add("environment %q: docker requires image and registry", env.Name)
		}
	}
}

func normalizeCompute(sizing model.ComputeSizing, issues *model.ConfigurationError) model.ComputeSizing {
	out := make(model.ComputeSizing, len(sizing))
	seen := make(map[string]string)

	for _, pool := range sizing.Pools() {
		if _, ok := DefaultVMSizes[pool.Class]; !ok {
			issues.Add("compute class %q must be cpu or gpu", pool.Class)
			continue
		}
		if other, dup := seen[pool.Name]; dup {
			issues.Add("compute pool %q declared under both %s and %s", pool.Name, other, pool.Class)
			continue
		}
		seen[pool.Name] = pool.Class

		s := pool.Sizing
		if s.Min < 0 || s.Max < 1 || s.Min > s.Max {
			issues.Add("compute pool %q: invalid node range %d..%d", pool.Name, s.Min, s.Max)
		}
		if s.VMSize == "" {
			s.VMSize = DefaultVMSizes[pool.Class]
		}
		switch strings.ToLower(s.Priority) {
		case "", "lowpriority":
			s.Priority = model.PriorityLow
		case "dedicated":
			s.Priority = model.PriorityDedicated
		default:
			issues.Add("compute pool %q: unknown priority %q", pool.Name, s.Priority)
		}

		if out[pool.Class] == nil {
			out[pool.Class] = make(map[string]model.ClusterSizing)
		}
		out[pool.Class][pool.Name] = s
	}
	return out
}

func normalizeSteps(steps []model.StepSpec, sizing model.ComputeSizing, issues *model.ConfigurationError) []model.StepSpec {
	if len(steps) == 0 {
		issues.Add("at least one step is required")
		return nil
	}

	out := make([]model.StepSpec, len(steps))
	names := make(map[string]bool, len(steps))
	defaults := make(map[string]string)
	owners := make(map[string]string)

	for i, step := range steps {
		if i == 0 && step.RunWithPrevious {
			issues.Add("step %q: the first step cannot run with previous", step.Name)
		}
		if names[step.Name] {
			issues.Add("step %q is declared more than once", step.Name)
		}
		names[step.Name] = true

		if _, ok := sizing.Lookup(step.Compute); !ok {
			issues.Add("step %q: compute pool %q is not declared", step.Name, step.Compute)
		}

		params := make(map[string]string, len(step.Params))
		for _, key := range sortedKeys(step.Params) {
			value := step.Params[key]
			if key == model.RunDatetimeParam {
				issues.Add("step %q: parameter %q is reserved", step.Name, key)
				continue
			}
			if prev, ok := defaults[key]; ok && prev != value {
				issues.Add("parameter %q: step %q default %q conflicts with step %q default %q", key, step.Name, value, owners[key], prev)
			} else if !ok {
				defaults[key] = value
				owners[key] = step.Name
			}
			params[key] = value
		}
		step.Params = params

		inputs := make(map[string]string, len(step.InputDatasets))
		for name, alias := range step.InputDatasets {
			inputs[name] = alias
		}
		step.InputDatasets = inputs

		out[i] = step
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
