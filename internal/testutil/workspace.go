// Package testutil provides an in-memory Azure ML workspace for tests across
// the codebase.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sourceplane/mlpipe/internal/model"
)

// FakeWorkspace implements every remote workspace interface in memory and
// records the calls it receives. Fn fields override the default behaviour.
type FakeWorkspace struct {
	mu sync.Mutex

	Computes     map[string]*model.ComputeTarget
	Datasets     map[string]*model.Dataset
	Datastores   map[string]*model.Datastore
	Environments map[string]*model.Environment
	Secrets      map[string]string
	Endpoints    []*model.PipelineEndpoint
	Pipelines    []*model.PipelineDefinition
	Runs         []*model.PipelineRun
	Schedules    []*model.Schedule

	// PendingPolls is how many GetCompute calls a newly created target
	// reports Creating before it turns Succeeded.
	PendingPolls int

	GetComputeFn      func(ctx context.Context, name string) (*model.ComputeTarget, bool, error)
	CreateComputeFn   func(ctx context.Context, req model.ComputeRequest) (*model.ComputeTarget, error)
	PublishPipelineFn func(ctx context.Context, def model.PipelineDefinition) (*model.PublishedPipeline, error)

	Calls []string

	polls map[string]int
	seq   int
}

// NewFakeWorkspace returns an empty workspace.
func NewFakeWorkspace() *FakeWorkspace {
	return &FakeWorkspace{
		Computes:     make(map[string]*model.ComputeTarget),
		Datasets:     make(map[string]*model.Dataset),
		Datastores:   make(map[string]*model.Datastore),
		Environments: make(map[string]*model.Environment),
		Secrets:      make(map[string]string),
		polls:        make(map[string]int),
	}
}

func (f *FakeWorkspace) record(format string, args ...interface{}) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

func (f *FakeWorkspace) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

// CallsWithPrefix returns the recorded calls starting with prefix.
func (f *FakeWorkspace) CallsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			out = append(out, c)
		}
	}
	return out
}

// GetCompute implements compute.Provider.
func (f *FakeWorkspace) GetCompute(ctx context.Context, name string) (*model.ComputeTarget, bool, error) {
	if f.GetComputeFn != nil {
		return f.GetComputeFn(ctx, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetCompute %s", name)

	target, ok := f.Computes[name]
	if !ok {
		return nil, false, nil
	}
	if target.ProvisioningState == model.ProvisioningCreating {
		f.polls[name]++
		if f.polls[name] > f.PendingPolls {
			target.ProvisioningState = model.ProvisioningSucceeded
		}
	}
	copied := *target
	return &copied, true, nil
}

// CreateCompute implements compute.Provider.
func (f *FakeWorkspace) CreateCompute(ctx context.Context, req model.ComputeRequest) (*model.ComputeTarget, error) {
	if f.CreateComputeFn != nil {
		return f.CreateComputeFn(ctx, req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateCompute %s", req.Name)

	target := &model.ComputeTarget{
		Name:              req.Name,
		VMSize:            req.VMSize,
		Priority:          req.Priority,
		MinNodes:          req.MinNodes,
		MaxNodes:          req.MaxNodes,
		ProvisioningState: model.ProvisioningCreating,
	}
	f.Computes[req.Name] = target
	copied := *target
	return &copied, nil
}

// GetDatasetByName implements planner.DatasetRegistry.
func (f *FakeWorkspace) GetDatasetByName(_ context.Context, name string) (*model.Dataset, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetDataset %s", name)

	ds, ok := f.Datasets[name]
	return ds, ok, nil
}

// RegisterDataset implements datastore.Workspace.
func (f *FakeWorkspace) RegisterDataset(_ context.Context, req model.DatasetRequest) (*model.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RegisterDataset %s", req.Name)

	ds := &model.Dataset{ID: f.nextID("dataset"), Name: req.Name, Type: req.Type, Datastore: req.Datastore, Version: 1}
	f.Datasets[req.Name] = ds
	return ds, nil
}

// GetDatastore implements datastore.Workspace.
func (f *FakeWorkspace) GetDatastore(_ context.Context, name string) (*model.Datastore, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetDatastore %s", name)

	ds, ok := f.Datastores[name]
	return ds, ok, nil
}

// RegisterDatastore implements datastore.Workspace.
func (f *FakeWorkspace) RegisterDatastore(_ context.Context, req model.DatastoreRequest) (*model.Datastore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RegisterDatastore %s", req.Name)

	ds := &model.Datastore{
		Name:        req.Name,
		Type:        req.Type,
		AccountName: req.AccountName,
		Container:   req.Container,
		Server:      req.Server,
		Database:    req.Database,
	}
	f.Datastores[req.Name] = ds
	return ds, nil
}

// DefaultDatastore implements snapshot.DatastoreResolver.
func (f *FakeWorkspace) DefaultDatastore(_ context.Context) (*model.Datastore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DefaultDatastore")

	for _, ds := range f.Datastores {
		if ds.IsDefault {
			return ds, nil
		}
	}
	return nil, fmt.Errorf("workspace has no default datastore")
}

// GetEnvironment implements environment.Registry.
func (f *FakeWorkspace) GetEnvironment(_ context.Context, name string) (*model.Environment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetEnvironment %s", name)

	env, ok := f.Environments[name]
	if !ok {
		return nil, false, nil
	}
	copied := env.Clone(env.Name)
	copied.Version = env.Version
	return &copied, true, nil
}

// GetSecret implements datastore.SecretStore.
func (f *FakeWorkspace) GetSecret(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetSecret %s", name)

	value, ok := f.Secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return value, nil
}

// PublishPipeline implements publish.Platform.
func (f *FakeWorkspace) PublishPipeline(ctx context.Context, def model.PipelineDefinition) (*model.PublishedPipeline, error) {
	if f.PublishPipelineFn != nil {
		return f.PublishPipelineFn(ctx, def)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PublishPipeline %s", def.Name)

	f.Pipelines = append(f.Pipelines, &def)
	return &model.PublishedPipeline{
		ID:          f.nextID("pipeline"),
		Name:        def.Name,
		Description: def.Description,
		Version:     def.Version,
	}, nil
}

// SubmitPipeline implements publish.Platform.
func (f *FakeWorkspace) SubmitPipeline(_ context.Context, pipelineID, experiment string, params map[string]string) (*model.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SubmitPipeline %s %s", pipelineID, experiment)

	run := &model.PipelineRun{ID: f.nextID("run"), ExperimentName: experiment, Status: "NotStarted"}
	f.Runs = append(f.Runs, run)
	return run, nil
}

// ListPipelineEndpoints implements publish.Platform.
func (f *FakeWorkspace) ListPipelineEndpoints(_ context.Context, activeOnly bool) ([]model.PipelineEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListPipelineEndpoints activeOnly=%t", activeOnly)

	out := make([]model.PipelineEndpoint, 0, len(f.Endpoints))
	for _, ep := range f.Endpoints {
		if activeOnly && ep.Status != model.EndpointActive {
			continue
		}
		out = append(out, *ep)
	}
	return out, nil
}

// PublishPipelineEndpoint implements publish.Platform.
func (f *FakeWorkspace) PublishPipelineEndpoint(_ context.Context, name, description, pipelineID string) (*model.PipelineEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PublishPipelineEndpoint %s %s", name, pipelineID)

	ep := &model.PipelineEndpoint{
		ID:                f.nextID("endpoint"),
		Name:              name,
		Description:       description,
		Status:            model.EndpointActive,
		DefaultPipelineID: pipelineID,
	}
	f.Endpoints = append(f.Endpoints, ep)
	copied := *ep
	return &copied, nil
}

// DisablePipelineEndpoint implements publish.Platform.
func (f *FakeWorkspace) DisablePipelineEndpoint(_ context.Context, id string) error {
	return f.setEndpointStatus("DisablePipelineEndpoint", id, model.EndpointDisabled)
}

// ArchivePipelineEndpoint implements publish.Platform.
func (f *FakeWorkspace) ArchivePipelineEndpoint(_ context.Context, id string) error {
	return f.setEndpointStatus("ArchivePipelineEndpoint", id, model.EndpointDeleted)
}

func (f *FakeWorkspace) setEndpointStatus(call, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("%s %s", call, id)

	for _, ep := range f.Endpoints {
		if ep.ID == id {
			ep.Status = status
			return nil
		}
	}
	return fmt.Errorf("endpoint %s not found", id)
}

// SubmitPipelineEndpoint implements publish.Platform.
func (f *FakeWorkspace) SubmitPipelineEndpoint(_ context.Context, endpointID, experiment string, params map[string]string) (*model.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SubmitPipelineEndpoint %s %s params=%d", endpointID, experiment, len(params))

	run := &model.PipelineRun{ID: f.nextID("run"), ExperimentName: experiment, Status: "NotStarted"}
	f.Runs = append(f.Runs, run)
	return run, nil
}

// CreateSchedule implements publish.Platform.
func (f *FakeWorkspace) CreateSchedule(_ context.Context, req model.ScheduleRequest) (*model.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSchedule %s %s", req.Name, req.EndpointID)

	sched := &model.Schedule{ID: f.nextID("schedule"), Name: req.Name, EndpointID: req.EndpointID, Recurrence: req.Recurrence}
	f.Schedules = append(f.Schedules, sched)
	return sched, nil
}

// ActiveEndpoints returns the active endpoints called name, ordered by id.
func (f *FakeWorkspace) ActiveEndpoints(name string) []model.PipelineEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.PipelineEndpoint
	for _, ep := range f.Endpoints {
		if ep.Name == name && ep.Status == model.EndpointActive {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
