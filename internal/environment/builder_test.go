package environment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/mlpipe/internal/model"
	"github.com/sourceplane/mlpipe/internal/testutil"
)

func envFrom(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeRequirements(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "deployment"), 0o755))
	content := "pandas==1.3.5\n\n# pinned for the model\nscikit-learn==1.0.2\nazureml-core\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deployment", "pipeline_requirements.txt"), []byte(content), 0o644))
}

func TestBuild_Curated(t *testing.T) {
	dir := t.TempDir()
	writeRequirements(t, dir)

	ws := testutil.NewFakeWorkspace()
	ws.Environments["AzureML-sklearn"] = &model.Environment{
		Name:          "AzureML-sklearn",
		Version:       "7",
		BaseImage:     "mcr.microsoft.com/azureml/base",
		PipPackages:   []string{"scikit-learn==0.24"},
		CondaPackages: []string{"python=3.8"},
	}

	b := NewBuilder(ws, dir, nil)
	rc, err := b.Build(context.Background(), model.EnvironmentSpec{
		Name:             "titanic-env",
		Curated:          "AzureML-sklearn",
		RequirementsFile: "deployment/pipeline_requirements.txt",
	})
	require.NoError(t, err)

	assert.False(t, rc.UseDocker)
	assert.Equal(t, "titanic-env", rc.Environment.Name)
	assert.Equal(t, "mcr.microsoft.com/azureml/base", rc.Environment.BaseImage)
	assert.Equal(t, []string{
		"azureml-defaults", "azureml-core", "azureml-dataprep[fuse]",
		"pandas==1.3.5", "scikit-learn==1.0.2",
	}, rc.Environment.PipPackages)
	assert.Empty(t, rc.Environment.CondaPackages)
	assert.Equal(t, []string{"scikit-learn==0.24"}, ws.Environments["AzureML-sklearn"].PipPackages, "base must not change")
}

func TestBuild_BlankWithoutRequirements(t *testing.T) {
	b := NewBuilder(testutil.NewFakeWorkspace(), t.TempDir(), nil)
	rc, err := b.Build(context.Background(), model.EnvironmentSpec{
		Name:             "blank",
		RequirementsFile: "deployment/pipeline_requirements.txt",
	})
	require.NoError(t, err)

	assert.Equal(t, BaselinePackages, rc.Environment.PipPackages)
	assert.Empty(t, rc.Environment.BaseImage)
}

func TestBuild_CuratedMissing(t *testing.T) {
	ws := testutil.NewFakeWorkspace()
	b := NewBuilder(ws, t.TempDir(), nil)
	_, err := b.Build(context.Background(), model.EnvironmentSpec{Name: "env", Curated: "AzureML-missing"})
	assert.ErrorContains(t, err, "curated environment AzureML-missing not found")
}

func TestBuild_Docker(t *testing.T) {
	spec := model.EnvironmentSpec{
		Name:   "docker-env",
		Docker: &model.DockerSpec{Image: "ml/base:1.2", Registry: "acr.example.io"},
	}

	tests := []struct {
		name     string
		vars     map[string]string
		wantUser string
		wantErr  bool
	}{
		{name: "anonymous registry"},
		{name: "authenticated", vars: map[string]string{"DOCKER_USERNAME": "bot", "DOCKER_PASSWORD": "s3cret"}, wantUser: "bot"},
		{name: "username without password", vars: map[string]string{"DOCKER_USERNAME": "bot"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := testutil.NewFakeWorkspace()
			b := NewBuilder(ws, "", nil).WithGetenv(envFrom(tt.vars))

			rc, err := b.Build(context.Background(), spec)
			if tt.wantErr {
				var cfgErr *model.ConfigurationError
				assert.True(t, errors.As(err, &cfgErr))
				return
			}
			require.NoError(t, err)
			assert.True(t, rc.UseDocker)
			assert.True(t, rc.Environment.UserManagedDependencies)
			assert.Equal(t, "ml/base:1.2", rc.Environment.BaseImage)
			assert.Equal(t, "acr.example.io", rc.Environment.RegistryAddress)
			assert.Equal(t, tt.wantUser, rc.Environment.RegistryUsername)
			assert.Empty(t, rc.Environment.PipPackages)
			assert.Empty(t, ws.Calls, "docker environments need no registry lookup")
		})
	}
}

func TestCheckCredentials(t *testing.T) {
	docker := model.EnvironmentSpec{Name: "train-env", Docker: &model.DockerSpec{Image: "ml/base:1.2", Registry: "acr.example.io"}}
	curated := model.EnvironmentSpec{Name: "train-env", Curated: "AzureML-Minimal"}
	userOnly := envFrom(map[string]string{EnvDockerUsername: "bot"})

	var cfgErr *model.ConfigurationError
	err := CheckCredentials(docker, userOnly)
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.EqualError(t, err, "invalid configuration: DOCKER_PASSWORD must be set when DOCKER_USERNAME is set")

	assert.NoError(t, CheckCredentials(curated, userOnly))
	assert.NoError(t, CheckCredentials(docker, envFrom(nil)))
	assert.NoError(t, CheckCredentials(docker, envFrom(map[string]string{EnvDockerUsername: "bot", EnvDockerPassword: "s3cret"})))
}
