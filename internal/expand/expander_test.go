package expand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/mlpipe/internal/model"
)

func TestExpander_Expand(t *testing.T) {
	steps := []model.StepSpec{
		{Name: "clean", Script: "clean.py", SourceDir: "clean", Compute: "cpu-a"},
		{Name: "train", Script: "train.py", SourceDir: "train", Compute: "gpu-a",
			Params: map[string]string{"n_estimators": "100", "max_depth": "5"}},
	}
	ts := model.RunTimestamp("20240309_070502")

	instances := NewExpander("pipelines/train_pipeline", ts).Expand(steps)
	require.Len(t, instances, 2)

	clean := instances[0]
	assert.Equal(t, "pipelines/train_pipeline/clean", clean.SourceDir)
	assert.Equal(t, []string{"--run_datetime", "$AML_PARAMETER_run_datetime"}, clean.Arguments)

	train := instances[1]
	assert.Equal(t, []string{
		"--max_depth", "$AML_PARAMETER_max_depth",
		"--n_estimators", "$AML_PARAMETER_n_estimators",
		"--run_datetime", "$AML_PARAMETER_run_datetime",
	}, train.Arguments)
	assert.Equal(t, []model.PipelineParameter{
		{Name: "max_depth", DefaultValue: "5"},
		{Name: "n_estimators", DefaultValue: "100"},
		{Name: "run_datetime", DefaultValue: "20240309_070502"},
	}, train.Parameters)

	for _, inst := range instances {
		assert.Equal(t, "20240309_070502", inst.Params[model.RunDatetimeParam])
	}

	// declared params are left untouched
	assert.NotContains(t, steps[1].Params, model.RunDatetimeParam)
	assert.Nil(t, steps[0].Params)
}

func TestExpander_NoPrefix(t *testing.T) {
	instances := NewExpander("", "ts").Expand([]model.StepSpec{{Name: "a", SourceDir: "src/a"}})
	assert.Equal(t, "src/a", instances[0].SourceDir)
}

func TestPipelineParameters(t *testing.T) {
	instances := NewExpander("", "ts").Expand([]model.StepSpec{
		{Name: "a", Params: map[string]string{"alpha": "1"}},
		{Name: "b", Params: map[string]string{"alpha": "1", "beta": "2"}},
	})

	assert.Equal(t, []model.PipelineParameter{
		{Name: "alpha", DefaultValue: "1"},
		{Name: "beta", DefaultValue: "2"},
		{Name: "run_datetime", DefaultValue: "ts"},
	}, PipelineParameters(instances))
}

func TestAnalyzePools(t *testing.T) {
	usage := AnalyzePools([]model.StepSpec{
		{Name: "clean", Compute: "cpu-a"},
		{Name: "preprocess", Compute: "cpu-a"},
		{Name: "train", Compute: "gpu-a"},
	})

	assert.True(t, usage.Referenced("cpu-a"))
	assert.True(t, usage.Referenced("gpu-a"))
	assert.False(t, usage.Referenced("cpu-unused"))
	assert.Equal(t, []string{"clean", "preprocess"}, usage.Steps("cpu-a"))
	assert.Equal(t, []string{"cpu-a", "gpu-a"}, usage.Pools())
}
