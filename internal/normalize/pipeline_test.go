package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/mlpipe/internal/model"
)

func baseConfig() *model.PipelineConfig {
	return &model.PipelineConfig{
		APIVersion: model.APIVersion,
		Kind:       model.KindPipeline,
		Metadata:   model.Metadata{Name: "titanic"},
		Spec: model.PipelineSpec{
			Experiment:  "titanic-train",
			Pipeline:    model.PipelineInfo{Name: "titanic-pipeline"},
			Workspace:   model.WorkspaceSpec{Auth: model.AuthServicePrincipal},
			Environment: model.EnvironmentSpec{Name: "titanic-env"},
			Compute: model.ComputeSizing{
				model.HardwareCPU: {"cpu-a": {Min: 0, Max: 2}},
				model.HardwareGPU: {"gpu-a": {Min: 0, Max: 1, Priority: "dedicated"}},
			},
			Steps: []model.StepSpec{
				{Name: "clean", Script: "clean.py", SourceDir: "clean", Compute: "cpu-a"},
				{Name: "train", Script: "train.py", SourceDir: "train", Compute: "gpu-a",
					Params: map[string]string{"max_depth": "5"}},
			},
		},
	}
}

func configIssues(t *testing.T, err error) []string {
	t.Helper()
	var cfgErr *model.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
	return cfgErr.Issues
}

func TestNormalizePipeline_Defaults(t *testing.T) {
	cfg := baseConfig()

	out, err := NormalizePipeline(cfg)
	require.NoError(t, err)

	assert.Equal(t, DefaultPipelineVersion, out.Spec.Pipeline.Version)
	assert.Equal(t, DefaultRequirementsFile, out.Spec.Environment.RequirementsFile)

	cpu := out.Spec.Compute[model.HardwareCPU]["cpu-a"]
	assert.Equal(t, "STANDARD_DS3_V2", cpu.VMSize)
	assert.Equal(t, model.PriorityLow, cpu.Priority)

	gpu := out.Spec.Compute[model.HardwareGPU]["gpu-a"]
	assert.Equal(t, "STANDARD_NC6", gpu.VMSize)
	assert.Equal(t, model.PriorityDedicated, gpu.Priority)

	// input is not mutated
	assert.Empty(t, cfg.Spec.Pipeline.Version)
	assert.Empty(t, cfg.Spec.Compute[model.HardwareCPU]["cpu-a"].VMSize)
}

func TestNormalizePipeline_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.PipelineConfig)
		issue  string
	}{
		{
			name:   "first step runs with previous",
			mutate: func(c *model.PipelineConfig) { c.Spec.Steps[0].RunWithPrevious = true },
			issue:  `step "clean": the first step cannot run with previous`,
		},
		{
			name:   "unknown compute pool",
			mutate: func(c *model.PipelineConfig) { c.Spec.Steps[1].Compute = "gpu-x" },
			issue:  `step "train": compute pool "gpu-x" is not declared`,
		},
		{
			name: "curated and docker",
			mutate: func(c *model.PipelineConfig) {
				c.Spec.Environment.Curated = "AzureML-Minimal"
				c.Spec.Environment.Docker = &model.DockerSpec{Image: "img", Registry: "reg"}
			},
			issue: `environment "titanic-env": curated and docker are mutually exclusive`,
		},
		{
			name:   "invalid auth",
			mutate: func(c *model.PipelineConfig) { c.Spec.Workspace.Auth = "token" },
			issue:  `workspace auth mode "token" must be one of from_config, interactive, service_principal, managed_identity`,
		},
		{
			name:   "deploy without endpoint name",
			mutate: func(c *model.PipelineConfig) { c.Spec.Endpoint.Deploy = true },
			issue:  "endpoint name is required when deploy is enabled",
		},
		{
			name: "reserved parameter",
			mutate: func(c *model.PipelineConfig) {
				c.Spec.Steps[0].Params = map[string]string{model.RunDatetimeParam: "x"}
			},
			issue: `step "clean": parameter "run_datetime" is reserved`,
		},
		{
			name: "conflicting parameter defaults",
			mutate: func(c *model.PipelineConfig) {
				c.Spec.Steps[0].Params = map[string]string{"max_depth": "3"}
			},
			issue: `parameter "max_depth": step "train" default "5" conflicts with step "clean" default "3"`,
		},
		{
			name:   "duplicate step",
			mutate: func(c *model.PipelineConfig) { c.Spec.Steps[1].Name = "clean" },
			issue:  `step "clean" is declared more than once`,
		},
		{
			name: "invalid node range",
			mutate: func(c *model.PipelineConfig) {
				c.Spec.Compute[model.HardwareCPU]["cpu-a"] = model.ClusterSizing{Min: 3, Max: 2}
			},
			issue: `compute pool "cpu-a": invalid node range 3..2`,
		},
		{
			name: "schedule without deploy",
			mutate: func(c *model.PipelineConfig) {
				c.Spec.Endpoint.Schedule = "0 6 * * *"
			},
			issue: "endpoint schedule requires deploy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			out, err := NormalizePipeline(cfg)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Contains(t, configIssues(t, err), tt.issue)
		})
	}
}

func TestNormalizePipeline_SharedParameter(t *testing.T) {
	cfg := baseConfig()
	cfg.Spec.Steps[0].Params = map[string]string{"max_depth": "5"}

	_, err := NormalizePipeline(cfg)
	assert.NoError(t, err)
}

func TestNormalizeDatastoreSet(t *testing.T) {
	set := &model.DatastoreSet{
		Spec: model.DatastoreSetSpec{
			Workspace: model.WorkspaceSpec{Auth: model.AuthFromConfig},
			Datastores: []model.DatastoreSpec{
				{
					Name: "bc_blob", Type: model.DatastoreBlob,
					AccountName: "bcadlsweu001", Container: "dataplatform", AccountKeySecret: "key",
					Datasets: map[string]model.DatasetSpec{
						"ds-titanic-raw": {Type: model.DatasetTabular, Path: "titanic/raw/titanic.csv"},
					},
				},
				{
					Name: "bc_sql", Type: model.DatastoreSQL,
					Server: "srv", Database: "db", Username: "u", PasswordSecret: "pw",
					Datasets: map[string]model.DatasetSpec{
						"ds-sql": {Type: model.DatasetTabular, Query: "SELECT 1"},
					},
				},
			},
		},
	}

	out, err := NormalizeDatastoreSet(set)
	require.NoError(t, err)
	assert.Len(t, out.Spec.Datastores, 2)

	set.Spec.Datastores[0].AccountKeySecret = ""
	set.Spec.Datastores[1].Datasets["ds-sql"] = model.DatasetSpec{Type: model.DatasetTabular}
	_, err = NormalizeDatastoreSet(set)
	issues := configIssues(t, err)
	assert.Contains(t, issues, `datastore "bc_blob" of type BLOB requires accountKeySecret`)
	assert.Contains(t, issues, `dataset "ds-sql" requires a query`)
}
