// Package runner drives one deployment end to end: connect, provision,
// build the environment, snapshot sources, sequence steps and publish.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sourceplane/mlpipe/internal/compute"
	"github.com/sourceplane/mlpipe/internal/datastore"
	"github.com/sourceplane/mlpipe/internal/environment"
	"github.com/sourceplane/mlpipe/internal/expand"
	"github.com/sourceplane/mlpipe/internal/git"
	"github.com/sourceplane/mlpipe/internal/model"
	"github.com/sourceplane/mlpipe/internal/planner"
	"github.com/sourceplane/mlpipe/internal/publish"
	"github.com/sourceplane/mlpipe/internal/snapshot"
)

// Backend is every remote workspace API the runner drives.
type Backend interface {
	compute.Provider
	environment.Registry
	planner.DatasetRegistry
	snapshot.DatastoreResolver
	datastore.Workspace
	publish.Platform
}

// Connection is an authenticated workspace.
type Connection struct {
	Workspace model.Workspace
	Backend   Backend
	Blobs     snapshot.BlobFactory
	// Secrets is nil when the workspace has no key vault.
	Secrets datastore.SecretStore
}

// Connector opens a connection for the configured auth mode.
type Connector func(ctx context.Context, spec model.WorkspaceSpec) (*Connection, error)

// Runner executes deployments.
type Runner struct {
	Connect        Connector
	WorkDir        string
	Stdout         io.Writer
	Logger         *slog.Logger
	Getenv         func(string) string
	ComputeOptions compute.Options
	Now            func() time.Time
}

// NewRunner creates a runner writing progress to stdout.
func NewRunner(connect Connector, workDir string, stdout io.Writer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if stdout == nil {
		stdout = io.Discard
	}
	return &Runner{
		Connect: connect,
		WorkDir: workDir,
		Stdout:  stdout,
		Logger:  logger,
		Getenv:  os.Getenv,
		Now:     time.Now,
	}
}

func (r *Runner) progress(format string, args ...interface{}) {
	fmt.Fprintf(r.Stdout, format+"\n", args...)
}

// Run deploys a normalized pipeline configuration. Remote side effects that
// completed before a failure are left in place; re-running converges.
func (r *Runner) Run(ctx context.Context, cfg *model.PipelineConfig) (*publish.Result, error) {
	spec := cfg.Spec
	if err := planner.CheckSteps(spec.Steps); err != nil {
		return nil, err
	}
	if err := environment.CheckCredentials(spec.Environment, r.Getenv); err != nil {
		return nil, err
	}

	ts := model.NewRunTimestamp(r.Now())
	log := r.Logger.With("pipeline", spec.Pipeline.Name, "run_datetime", ts.String())

	r.progress("□ Connecting to workspace...")
	conn, err := r.Connect(ctx, spec.Workspace)
	if err != nil {
		return nil, err
	}

	r.progress("□ Resolving compute targets...")
	usage := expand.AnalyzePools(spec.Steps)
	targets, err := compute.NewResolver(conn.Backend, log, r.ComputeOptions).Resolve(ctx, spec.Compute, usage)
	if err != nil {
		return nil, err
	}

	r.progress("□ Building environment %s...", spec.Environment.Name)
	runConfig, err := environment.NewBuilder(conn.Backend, r.WorkDir, log).WithGetenv(r.Getenv).Build(ctx, spec.Environment)
	if err != nil {
		return nil, err
	}

	r.progress("□ Uploading source snapshots...")
	dirs := sourceDirs(spec, ts)
	snapshots, err := snapshot.NewUploader(conn.Backend, conn.Blobs, r.WorkDir, log).Upload(ctx, dirs)
	if err != nil {
		return nil, err
	}

	r.progress("□ Sequencing steps...")
	seq, err := planner.NewSequencer(conn.Backend, log).Sequence(ctx, planner.Input{
		Steps:           spec.Steps,
		SourceDirPrefix: spec.SourceDirPrefix,
		RunTimestamp:    ts,
		Targets:         targets,
		RunConfig:       runConfig,
		Snapshots:       snapshots,
	})
	if err != nil {
		return nil, err
	}

	r.progress("□ Publishing pipeline %s v%s...", spec.Pipeline.Name, spec.Pipeline.Version)
	result, err := publish.NewDeployer(conn.Backend, log).Deploy(ctx, publish.Request{
		Experiment: spec.Experiment,
		Pipeline:   spec.Pipeline,
		Endpoint:   spec.Endpoint,
		Sequence:   seq,
		Properties: r.provenance(log, dirs),
	})
	if err != nil {
		return nil, err
	}

	r.progress("✓ Published pipeline %s", result.Pipeline.ID)
	if result.Endpoint != nil {
		r.progress("✓ Endpoint %s is active (%d archived)", result.Endpoint.Name, len(result.Archived))
	}
	if result.Run != nil {
		r.progress("✓ Submitted run %s to experiment %s", result.Run.ID, spec.Experiment)
	}
	if result.Schedule != nil {
		r.progress("✓ Scheduled %s", result.Schedule.Name)
	}
	return result, nil
}

// provenance returns git properties for the published pipeline and warns
// when snapshotted sources differ from the recorded commit.
func (r *Runner) provenance(log *slog.Logger, dirs []string) map[string]string {
	detector := git.NewChangeDetector(r.WorkDir)
	info, ok := detector.Describe()
	if !ok {
		log.Debug("not a git repository, skipping provenance")
		return nil
	}
	if changed := info.ChangedUnder(dirs); len(changed) > 0 {
		log.Warn("snapshotting uncommitted changes", "commit", info.Commit, "files", len(changed))
	}
	return info.Properties()
}

// RegisterDatastores applies a datastore set against the workspace.
func (r *Runner) RegisterDatastores(ctx context.Context, set *model.DatastoreSet) (*datastore.Summary, error) {
	r.progress("□ Connecting to workspace...")
	conn, err := r.Connect(ctx, set.Spec.Workspace)
	if err != nil {
		return nil, err
	}
	if conn.Secrets == nil {
		return nil, fmt.Errorf("workspace %s has no key vault to read datastore credentials from", conn.Workspace.Name)
	}

	r.progress("□ Registering datastores...")
	summary, err := datastore.NewRegistrar(conn.Backend, conn.Secrets, r.Logger).Apply(ctx, set)
	if err != nil {
		return summary, err
	}
	r.progress("✓ %d datastores registered, %d already present", len(summary.DatastoresRegistered), len(summary.DatastoresExisting))
	r.progress("✓ %d datasets registered, %d already present", len(summary.DatasetsRegistered), len(summary.DatasetsExisting))
	return summary, nil
}

func sourceDirs(spec model.PipelineSpec, ts model.RunTimestamp) []string {
	instances := expand.NewExpander(spec.SourceDirPrefix, ts).Expand(spec.Steps)
	dirs := make([]string, 0, len(instances))
	for _, inst := range instances {
		dirs = append(dirs, inst.SourceDir)
	}
	return dirs
}
