// Package publish publishes a step sequence as a versioned pipeline and
// redeploys its named endpoint.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourceplane/mlpipe/internal/model"
	"github.com/sourceplane/mlpipe/internal/schedule"
)

// Platform is the remote pipeline API.
type Platform interface {
	PublishPipeline(ctx context.Context, def model.PipelineDefinition) (*model.PublishedPipeline, error)
	SubmitPipeline(ctx context.Context, pipelineID, experiment string, params map[string]string) (*model.PipelineRun, error)
	ListPipelineEndpoints(ctx context.Context, activeOnly bool) ([]model.PipelineEndpoint, error)
	PublishPipelineEndpoint(ctx context.Context, name, description, pipelineID string) (*model.PipelineEndpoint, error)
	DisablePipelineEndpoint(ctx context.Context, id string) error
	ArchivePipelineEndpoint(ctx context.Context, id string) error
	SubmitPipelineEndpoint(ctx context.Context, endpointID, experiment string, params map[string]string) (*model.PipelineRun, error)
	CreateSchedule(ctx context.Context, req model.ScheduleRequest) (*model.Schedule, error)
}

// Request is one deployment.
type Request struct {
	Experiment string
	Pipeline   model.PipelineInfo
	Endpoint   model.EndpointSpec
	Sequence   *model.StepSequence
	Properties map[string]string
}

// Result reports what was published and submitted.
type Result struct {
	Pipeline *model.PublishedPipeline
	Endpoint *model.PipelineEndpoint
	Archived []string
	Run      *model.PipelineRun
	Schedule *model.Schedule
}

// Deployer publishes pipelines and manages their endpoints.
type Deployer struct {
	platform Platform
	logger   *slog.Logger
	now      func() time.Time
}

// NewDeployer creates a deployer.
func NewDeployer(platform Platform, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{platform: platform, logger: logger, now: time.Now}
}

// Deploy publishes the sequence. Without endpoint deployment the published
// pipeline is submitted to the experiment. With it, every existing endpoint of
// the same name is disabled and archived before a new one is published.
// Steps are not rolled back when a later step fails.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	if req.Sequence == nil || len(req.Sequence.Slots) == 0 {
		return nil, fmt.Errorf("nothing to publish: step sequence is empty")
	}

	log := d.logger.With("pipeline", req.Pipeline.Name, "version", req.Pipeline.Version)

	published, err := d.platform.PublishPipeline(ctx, model.PipelineDefinition{
		Name:        req.Pipeline.Name,
		Description: req.Pipeline.Description,
		Version:     req.Pipeline.Version,
		Experiment:  req.Experiment,
		Sequence:    req.Sequence,
		Properties:  req.Properties,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish pipeline: %w", err)
	}
	log.Info("published pipeline", "pipeline_id", published.ID)
	result := &Result{Pipeline: published}

	if !req.Endpoint.Deploy {
		run, err := d.platform.SubmitPipeline(ctx, published.ID, req.Experiment, map[string]string{})
		if err != nil {
			return result, fmt.Errorf("failed to submit pipeline: %w", err)
		}
		log.Info("submitted pipeline run", "experiment", req.Experiment, "run_id", run.ID)
		result.Run = run
		return result, nil
	}

	archived, err := d.retireEndpoints(ctx, req.Endpoint.Name)
	result.Archived = archived
	if err != nil {
		return result, err
	}

	endpoint, err := d.platform.PublishPipelineEndpoint(ctx, req.Endpoint.Name, req.Endpoint.Description, published.ID)
	if err != nil {
		return result, fmt.Errorf("failed to publish endpoint %s: %w", req.Endpoint.Name, err)
	}
	log.Info("published pipeline endpoint", "endpoint", endpoint.Name, "endpoint_id", endpoint.ID)
	result.Endpoint = endpoint

	if req.Endpoint.RunInstantly {
		run, err := d.platform.SubmitPipelineEndpoint(ctx, endpoint.ID, req.Experiment, map[string]string{})
		if err != nil {
			return result, fmt.Errorf("failed to submit endpoint %s: %w", endpoint.Name, err)
		}
		log.Info("submitted endpoint run", "experiment", req.Experiment, "run_id", run.ID)
		result.Run = run
	}

	if req.Endpoint.Schedule != "" {
		sched, err := d.createSchedule(ctx, req, endpoint)
		if err != nil {
			return result, err
		}
		result.Schedule = sched
	}

	return result, nil
}

// retireEndpoints disables then archives every endpoint called name,
// active or not, and returns the ids it archived.
func (d *Deployer) retireEndpoints(ctx context.Context, name string) ([]string, error) {
	endpoints, err := d.platform.ListPipelineEndpoints(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline endpoints: %w", err)
	}

	var archived []string
	for _, ep := range endpoints {
		if ep.Name != name || ep.Status == model.EndpointDeleted {
			continue
		}
		if ep.Status == model.EndpointActive {
			if err := d.platform.DisablePipelineEndpoint(ctx, ep.ID); err != nil {
				return archived, fmt.Errorf("failed to disable endpoint %s (%s): %w", ep.Name, ep.ID, err)
			}
		}
		if err := d.platform.ArchivePipelineEndpoint(ctx, ep.ID); err != nil {
			return archived, fmt.Errorf("failed to archive endpoint %s (%s): %w", ep.Name, ep.ID, err)
		}
		d.logger.Info("archived pipeline endpoint", "endpoint", ep.Name, "endpoint_id", ep.ID, "previous_status", ep.Status)
		archived = append(archived, ep.ID)
	}
	return archived, nil
}

func (d *Deployer) createSchedule(ctx context.Context, req Request, endpoint *model.PipelineEndpoint) (*model.Schedule, error) {
	spec, err := schedule.Parse(req.Endpoint.Schedule)
	if err != nil {
		return nil, model.ErrConfiguration("%v", err)
	}

	sched, err := d.platform.CreateSchedule(ctx, model.ScheduleRequest{
		Name:       endpoint.Name + "-schedule",
		EndpointID: endpoint.ID,
		Experiment: req.Experiment,
		Recurrence: spec.Recurrence,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule for endpoint %s: %w", endpoint.Name, err)
	}
	sched.NextRun = spec.Next(d.now())
	d.logger.Info("scheduled pipeline endpoint",
		"endpoint", endpoint.Name,
		"schedule", req.Endpoint.Schedule,
		"frequency", spec.Recurrence.Frequency,
		"next_run", sched.NextRun.Format(time.RFC3339))
	return sched, nil
}
