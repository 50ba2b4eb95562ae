package expand

import (
	"path"
	"sort"

	"github.com/sourceplane/mlpipe/internal/model"
)

// StepInstance is a step with its invocation-specific values resolved.
type StepInstance struct {
	Spec       model.StepSpec
	SourceDir  string
	Params     map[string]string
	Arguments  []string
	Parameters []model.PipelineParameter
}

// Expander binds declared steps to one invocation
type Expander struct {
	sourceDirPrefix string
	runTimestamp    model.RunTimestamp
}

// NewExpander creates a new expander
func NewExpander(sourceDirPrefix string, ts model.RunTimestamp) *Expander {
	return &Expander{
		sourceDirPrefix: sourceDirPrefix,
		runTimestamp:    ts,
	}
}

// Expand produces one StepInstance per step, in declaration order. The step
// specs are not modified: every instance gets its own parameter map carrying
// the shared run timestamp.
func (e *Expander) Expand(steps []model.StepSpec) []StepInstance {
	instances := make([]StepInstance, 0, len(steps))
	for _, step := range steps {
		params := e.mergeParams(step)
		keys := sortedKeys(params)

		args := make([]string, 0, 2*len(keys))
		parameters := make([]model.PipelineParameter, 0, len(keys))
		for _, key := range keys {
			args = append(args, "--"+key, model.ParameterRef(key))
			parameters = append(parameters, model.PipelineParameter{Name: key, DefaultValue: params[key]})
		}

		instances = append(instances, StepInstance{
			Spec:       step,
			SourceDir:  e.sourceDir(step),
			Params:     params,
			Arguments:  args,
			Parameters: parameters,
		})
	}
	return instances
}

// PipelineParameters returns the union of the instances' parameters, sorted by name.
func PipelineParameters(instances []StepInstance) []model.PipelineParameter {
	seen := make(map[string]string)
	for _, inst := range instances {
		for k, v := range inst.Params {
			if _, ok := seen[k]; !ok {
				seen[k] = v
			}
		}
	}
	out := make([]model.PipelineParameter, 0, len(seen))
	for _, k := range sortedKeys(seen) {
		out = append(out, model.PipelineParameter{Name: k, DefaultValue: seen[k]})
	}
	return out
}

func (e *Expander) mergeParams(step model.StepSpec) map[string]string {
	params := make(map[string]string, len(step.Params)+1)
	for k, v := range step.Params {
		params[k] = v
	}
	params[model.RunDatetimeParam] = e.runTimestamp.String()
	return params
}

func (e *Expander) sourceDir(step model.StepSpec) string {
	if e.sourceDirPrefix == "" {
		return step.SourceDir
	}
	return path.Join(e.sourceDirPrefix, step.SourceDir)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
