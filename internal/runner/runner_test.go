package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/mlpipe/internal/compute"
	"github.com/sourceplane/mlpipe/internal/model"
	"github.com/sourceplane/mlpipe/internal/snapshot"
	"github.com/sourceplane/mlpipe/internal/testutil"
)

type discardUploader struct{ files int }

func (d *discardUploader) UploadFile(context.Context, string, string, *os.File, *azblob.UploadFileOptions) (azblob.UploadFileResponse, error) {
	d.files++
	return azblob.UploadFileResponse{}, nil
}

func exampleConfig() *model.PipelineConfig {
	return &model.PipelineConfig{
		Metadata: model.Metadata{Name: "churn"},
		Spec: model.PipelineSpec{
			Experiment: "churn-exp",
			Pipeline:   model.PipelineInfo{Name: "churn-pipeline", Version: "1.0"},
			Workspace:  model.WorkspaceSpec{Auth: model.AuthFromConfig},
			Environment: model.EnvironmentSpec{
				Name:             "churn-env",
				RequirementsFile: "deployment/pipeline_requirements.txt",
			},
			Compute: model.ComputeSizing{
				model.HardwareCPU: {
					"cpu-a":      {Min: 0, Max: 2, VMSize: "STANDARD_DS3_V2", Priority: model.PriorityLow},
					"cpu-unused": {Min: 0, Max: 4, VMSize: "STANDARD_DS3_V2", Priority: model.PriorityLow},
				},
				model.HardwareGPU: {
					"gpu-a": {Min: 0, Max: 1, VMSize: "STANDARD_NC6", Priority: model.PriorityLow},
				},
			},
			SourceDirPrefix: "src",
			Steps: []model.StepSpec{
				{Name: "clean", Script: "clean.py", SourceDir: "clean", Compute: "cpu-a"},
				{Name: "preprocess", Script: "preprocess.py", SourceDir: "preprocess", Compute: "cpu-a"},
				{Name: "train", Script: "train.py", SourceDir: "train", Compute: "gpu-a",
					Params: map[string]string{"epochs": "10"}},
			},
		},
	}
}

type fixture struct {
	ws       *testutil.FakeWorkspace
	uploader *discardUploader
	runner   *Runner
	stdout   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"clean", "preprocess", "train"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "src", dir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "src", dir, dir+".py"), []byte("pass"), 0o644))
	}

	ws := testutil.NewFakeWorkspace()
	ws.Datastores["workspaceblobstore"] = &model.Datastore{
		Name: "workspaceblobstore", Type: model.DatastoreBlob,
		AccountName: "stml", Container: "azureml-blobstore", IsDefault: true,
	}
	up := &discardUploader{}

	connect := func(_ context.Context, _ model.WorkspaceSpec) (*Connection, error) {
		return &Connection{
			Workspace: model.Workspace{Name: "ws"},
			Backend:   ws,
			Blobs:     func(string) (snapshot.BlobUploader, error) { return up, nil },
			Secrets:   ws,
		}, nil
	}

	stdout := &bytes.Buffer{}
	r := NewRunner(connect, root, stdout, nil)
	r.Getenv = func(string) string { return "" }
	r.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local) }
	r.ComputeOptions = compute.Options{
		Timeout:    time.Second,
		NewBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
	}
	return &fixture{ws: ws, uploader: up, runner: r, stdout: stdout}
}

func TestRunWithoutEndpoint(t *testing.T) {
	f := newFixture(t)

	result, err := f.runner.Run(context.Background(), exampleConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{"CreateCompute cpu-a", "CreateCompute gpu-a"}, f.ws.CallsWithPrefix("CreateCompute"))
	assert.Equal(t, 3, f.uploader.files)

	require.Len(t, f.ws.Pipelines, 1)
	seq := f.ws.Pipelines[0].Sequence
	require.Len(t, seq.Slots, 3)
	for _, step := range seq.Steps() {
		assert.Contains(t, step.Arguments, "$AML_PARAMETER_run_datetime")
		assert.NotEmpty(t, step.SnapshotID)
		require.NotNil(t, step.RunConfig)
		assert.Equal(t, "churn-env", step.RunConfig.Environment.Name)
	}
	assert.Equal(t, "gpu-a", seq.Slots[2].Steps[0].Compute.Name)

	require.NotNil(t, result.Run)
	assert.Nil(t, result.Endpoint)
	assert.Contains(t, f.stdout.String(), "✓ Submitted run "+result.Run.ID+" to experiment churn-exp")
}

func TestRunRedeploysEndpoint(t *testing.T) {
	f := newFixture(t)
	f.ws.Endpoints = []*model.PipelineEndpoint{
		{ID: "old-1", Name: "churn-endpoint", Status: model.EndpointActive},
	}
	cfg := exampleConfig()
	cfg.Spec.Endpoint = model.EndpointSpec{Name: "churn-endpoint", Deploy: true, RunInstantly: true}

	result, err := f.runner.Run(context.Background(), cfg)
	require.NoError(t, err)

	active := f.ws.ActiveEndpoints("churn-endpoint")
	require.Len(t, active, 1)
	assert.Equal(t, result.Endpoint.ID, active[0].ID)
	assert.Equal(t, []string{"old-1"}, result.Archived)
	assert.Len(t, f.ws.CallsWithPrefix("SubmitPipelineEndpoint"), 1)
	assert.Contains(t, f.stdout.String(), "✓ Endpoint churn-endpoint is active (1 archived)")
}

func TestRunFirstStepFlaggedMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	cfg := exampleConfig()
	cfg.Spec.Steps[0].RunWithPrevious = true

	_, err := f.runner.Run(context.Background(), cfg)
	var cfgErr *model.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Empty(t, f.ws.Calls)
	assert.Empty(t, f.stdout.String())
}

func TestRunStopsOnComputeFailure(t *testing.T) {
	f := newFixture(t)
	f.ws.CreateComputeFn = func(context.Context, model.ComputeRequest) (*model.ComputeTarget, error) {
		return nil, errors.New("quota exceeded")
	}

	_, err := f.runner.Run(context.Background(), exampleConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Empty(t, f.ws.CallsWithPrefix("PublishPipeline"))
}

func TestRunConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.Connect = func(context.Context, model.WorkspaceSpec) (*Connection, error) {
		return nil, model.ErrConfiguration("missing environment variables: SUBSCRIPTION_ID")
	}

	_, err := f.runner.Run(context.Background(), exampleConfig())
	var cfgErr *model.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Empty(t, f.ws.Calls)
}

func TestPlanOffline(t *testing.T) {
	f := newFixture(t)
	cfg := exampleConfig()
	cfg.Spec.Steps[1].RunWithPrevious = true
	cfg.Spec.Steps[2].InputDatasets = map[string]string{"features": "features_in"}

	seq, err := f.runner.Plan(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, f.ws.Calls)

	require.Len(t, seq.Slots, 2)
	assert.Equal(t, model.SlotParallel, seq.Slots[0].Kind)
	assert.Equal(t, ProvisioningPlanned, seq.Slots[0].Steps[0].Compute.ProvisioningState)
	require.Len(t, seq.Slots[1].Steps[0].Inputs, 1)
	assert.Equal(t, "features_in", seq.Slots[1].Steps[0].Inputs[0].Alias)
	assert.Equal(t, model.NewRunTimestamp(f.runner.Now()), seq.RunTimestamp)
}

func TestRegisterDatastores(t *testing.T) {
	f := newFixture(t)
	f.ws.Secrets["raw-key"] = "secret"
	set := &model.DatastoreSet{Spec: model.DatastoreSetSpec{
		Datastores: []model.DatastoreSpec{{
			Name: "raw", Type: model.DatastoreBlob, AccountName: "raw", Container: "c",
			AccountKeySecret: "raw-key",
			Datasets:         map[string]model.DatasetSpec{"sales": {Type: model.DatasetTabular, Path: "sales.csv"}},
		}},
	}}

	summary, err := f.runner.RegisterDatastores(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, []string{"raw"}, summary.DatastoresRegistered)
	assert.Equal(t, []string{"sales"}, summary.DatasetsRegistered)
	assert.Contains(t, f.stdout.String(), "✓ 1 datastores registered, 0 already present")
}

func TestRegisterDatastoresWithoutKeyVault(t *testing.T) {
	f := newFixture(t)
	connect := f.runner.Connect
	f.runner.Connect = func(ctx context.Context, spec model.WorkspaceSpec) (*Connection, error) {
		conn, err := connect(ctx, spec)
		conn.Secrets = nil
		return conn, err
	}

	_, err := f.runner.RegisterDatastores(context.Background(), &model.DatastoreSet{})
	assert.EqualError(t, err, "workspace ws has no key vault to read datastore credentials from")
}

func TestRunDockerCredentialsCheckedBeforeConnect(t *testing.T) {
	f := newFixture(t)
	connected := false
	connect := f.runner.Connect
	f.runner.Connect = func(ctx context.Context, spec model.WorkspaceSpec) (*Connection, error) {
		connected = true
		return connect(ctx, spec)
	}
	f.runner.Getenv = func(k string) string {
		if k == "DOCKER_USERNAME" {
			return "bot"
		}
		return ""
	}
	cfg := exampleConfig()
	cfg.Spec.Environment = model.EnvironmentSpec{
		Name:   "churn-env",
		Docker: &model.DockerSpec{Image: "ml/churn:1.0", Registry: "acr.example.io"},
	}

	_, err := f.runner.Run(context.Background(), cfg)
	var cfgErr *model.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.False(t, connected)
	assert.Empty(t, f.ws.Calls)
	assert.Empty(t, f.stdout.String())
}

func TestProvenanceWarnsFromSubdirectory(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	repo := t.TempDir()
	gitRun := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	script := filepath.Join(repo, "ml", "src", "train", "train.py")
	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0o755))
	require.NoError(t, os.WriteFile(script, []byte("pass"), 0o644))
	gitRun("init", "-q")
	gitRun("-c", "user.email=ci@example.com", "-c", "user.name=ci", "add", ".")
	gitRun("-c", "user.email=ci@example.com", "-c", "user.name=ci", "commit", "-q", "-m", "init")
	require.NoError(t, os.WriteFile(script, []byte("print('changed')"), 0o644))

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	r := NewRunner(nil, filepath.Join(repo, "ml"), nil, log)

	props := r.provenance(log, []string{"src/train"})
	assert.Equal(t, "true", props["azureml.git.dirty"])
	assert.Contains(t, logs.String(), "snapshotting uncommitted changes")
	assert.Contains(t, logs.String(), "files=1")

	logs.Reset()
	r.provenance(log, []string{"src/clean"})
	assert.NotContains(t, logs.String(), "snapshotting uncommitted changes")
}
