package azureml

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sourceplane/mlpipe/internal/model"
)

type pipelineParameter struct {
	Name         string `json:"Name"`
	DefaultValue string `json:"DefaultValue"`
}

type datasetInput struct {
	DatasetID     string `json:"DatasetId"`
	Name          string `json:"Name"`
	Mode          string `json:"Mode"`
	PathOnCompute string `json:"PathOnCompute"`
}

type pythonScriptStep struct {
	Name            string         `json:"Name"`
	Script          string         `json:"Script"`
	SourceDirectory string         `json:"SourceDirectory"`
	SnapshotID      string         `json:"SnapshotId,omitempty"`
	Arguments       []string       `json:"Arguments"`
	ComputeTarget   string         `json:"ComputeTarget"`
	AllowReuse      bool           `json:"AllowReuse"`
	Inputs          []datasetInput `json:"Inputs,omitempty"`
	RunAfter        []string       `json:"RunAfter,omitempty"`
}

type publishPipelineRequest struct {
	Name               string              `json:"Name"`
	Description        string              `json:"Description,omitempty"`
	Version            string              `json:"Version"`
	ExperimentName     string              `json:"ExperimentName,omitempty"`
	Properties         map[string]string   `json:"Properties,omitempty"`
	PipelineParameters []pipelineParameter `json:"PipelineParameters"`
	Environment        amlEnvironment      `json:"Environment"`
	UseDocker          bool                `json:"UseDocker"`
	Steps              []pythonScriptStep  `json:"Steps"`
}

type publishedPipeline struct {
	ID          string `json:"Id"`
	Name        string `json:"Name"`
	Description string `json:"Description"`
	Version     string `json:"Version"`
}

type pipelineRun struct {
	ID             string `json:"Id"`
	ExperimentName string `json:"ExperimentName"`
	Status         struct {
		StatusCode string `json:"StatusCode"`
	} `json:"Status"`
}

func (r pipelineRun) run() *model.PipelineRun {
	return &model.PipelineRun{ID: r.ID, ExperimentName: r.ExperimentName, Status: r.Status.StatusCode}
}

type pipelineEndpoint struct {
	ID                string   `json:"Id,omitempty"`
	Name              string   `json:"Name"`
	Description       string   `json:"Description,omitempty"`
	Status            string   `json:"Status,omitempty"`
	DefaultPipelineID string   `json:"DefaultPipelineId"`
	PipelineIDs       []string `json:"PipelineIds,omitempty"`
}

func (e pipelineEndpoint) endpoint() model.PipelineEndpoint {
	return model.PipelineEndpoint{
		ID:                e.ID,
		Name:              e.Name,
		Description:       e.Description,
		Status:            e.Status,
		DefaultPipelineID: e.DefaultPipelineID,
	}
}

type submitRequest struct {
	ExperimentName       string            `json:"ExperimentName"`
	ParameterAssignments map[string]string `json:"ParameterAssignments"`
}

// buildSteps orders the steps slot by slot. Every step of a slot runs after
// all steps of the previous slot; steps within a slot have no mutual order.
func buildSteps(seq *model.StepSequence) []pythonScriptStep {
	var steps []pythonScriptStep
	var previous []string
	for _, slot := range seq.Slots {
		current := make([]string, 0, len(slot.Steps))
		for _, s := range slot.Steps {
			node := pythonScriptStep{
				Name:            s.Name,
				Script:          s.Script,
				SourceDirectory: s.SourceDir,
				SnapshotID:      s.SnapshotID,
				Arguments:       s.Arguments,
				AllowReuse:      s.AllowReuse,
				RunAfter:        previous,
			}
			if s.Compute != nil {
				node.ComputeTarget = s.Compute.Name
			}
			for _, in := range s.Inputs {
				node.Inputs = append(node.Inputs, datasetInput{
					DatasetID:     in.DatasetID,
					Name:          in.Alias,
					Mode:          in.Mode,
					PathOnCompute: in.PathOnCompute,
				})
			}
			steps = append(steps, node)
			current = append(current, s.Name)
		}
		previous = current
	}
	return steps
}

// PublishPipeline publishes a step sequence as a versioned pipeline.
func (c *Client) PublishPipeline(ctx context.Context, def model.PipelineDefinition) (*model.PublishedPipeline, error) {
	if def.Sequence == nil {
		return nil, fmt.Errorf("pipeline %s has no step sequence", def.Name)
	}

	body := publishPipelineRequest{
		Name:           def.Name,
		Description:    def.Description,
		Version:        def.Version,
		ExperimentName: def.Experiment,
		Properties:     def.Properties,
		Steps:          buildSteps(def.Sequence),
	}
	for _, p := range def.Sequence.Parameters {
		body.PipelineParameters = append(body.PipelineParameters, pipelineParameter{Name: p.Name, DefaultValue: p.DefaultValue})
	}
	if steps := def.Sequence.Steps(); len(steps) > 0 && steps[0].RunConfig != nil {
		env, err := wireEnvironment(steps[0].RunConfig.Environment)
		if err != nil {
			return nil, fmt.Errorf("failed to encode environment: %w", err)
		}
		body.Environment = env
		body.UseDocker = steps[0].RunConfig.UseDocker
	}

	endpoint, err := c.serviceURL("pipelines", "PublishedPipelines")
	if err != nil {
		return nil, err
	}
	var published publishedPipeline
	if _, err := c.send(ctx, http.MethodPost, endpoint, nil, body, &published, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("failed to publish pipeline %s: %w", def.Name, err)
	}
	return &model.PublishedPipeline{
		ID:          published.ID,
		Name:        published.Name,
		Description: published.Description,
		Version:     published.Version,
	}, nil
}

// SubmitPipeline submits a published pipeline run under an experiment.
func (c *Client) SubmitPipeline(ctx context.Context, pipelineID, experiment string, params map[string]string) (*model.PipelineRun, error) {
	endpoint, err := c.serviceURL("pipelines", "PipelineRuns", "PipelineSubmit", pipelineID)
	if err != nil {
		return nil, err
	}
	var run pipelineRun
	body := submitRequest{ExperimentName: experiment, ParameterAssignments: nonNil(params)}
	if _, err := c.send(ctx, http.MethodPost, endpoint, nil, body, &run, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("failed to submit pipeline %s: %w", pipelineID, err)
	}
	return run.run(), nil
}

type endpointPage struct {
	Value             []pipelineEndpoint `json:"Value"`
	ContinuationToken string             `json:"ContinuationToken"`
}

// ListPipelineEndpoints returns every endpoint, following continuation tokens.
func (c *Client) ListPipelineEndpoints(ctx context.Context, activeOnly bool) ([]model.PipelineEndpoint, error) {
	endpoint, err := c.serviceURL("pipelines", "PipelineEndpoints")
	if err != nil {
		return nil, err
	}

	var out []model.PipelineEndpoint
	token := ""
	for {
		query := url.Values{"activeOnly": []string{fmt.Sprintf("%t", activeOnly)}}
		if token != "" {
			query.Set("continuationToken", token)
		}
		var page endpointPage
		if _, err := c.send(ctx, http.MethodGet, endpoint, query, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list pipeline endpoints: %w", err)
		}
		for _, ep := range page.Value {
			out = append(out, ep.endpoint())
		}
		if page.ContinuationToken == "" {
			return out, nil
		}
		token = page.ContinuationToken
	}
}

// PublishPipelineEndpoint creates an endpoint whose default pipeline is pipelineID.
func (c *Client) PublishPipelineEndpoint(ctx context.Context, name, description, pipelineID string) (*model.PipelineEndpoint, error) {
	endpoint, err := c.serviceURL("pipelines", "PipelineEndpoints")
	if err != nil {
		return nil, err
	}
	body := pipelineEndpoint{
		Name:              name,
		Description:       description,
		DefaultPipelineID: pipelineID,
		PipelineIDs:       []string{pipelineID},
	}
	var created pipelineEndpoint
	if _, err := c.send(ctx, http.MethodPost, endpoint, nil, body, &created, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("failed to publish pipeline endpoint %s: %w", name, err)
	}
	ep := created.endpoint()
	return &ep, nil
}

// DisablePipelineEndpoint marks an endpoint Disabled.
func (c *Client) DisablePipelineEndpoint(ctx context.Context, id string) error {
	return c.setEndpointStatus(ctx, id, model.EndpointDisabled)
}

// ArchivePipelineEndpoint marks an endpoint Deleted (archived).
func (c *Client) ArchivePipelineEndpoint(ctx context.Context, id string) error {
	return c.setEndpointStatus(ctx, id, model.EndpointDeleted)
}

func (c *Client) setEndpointStatus(ctx context.Context, id, status string) error {
	endpoint, err := c.serviceURL("pipelines", "PipelineEndpoints", id, "SetStatus")
	if err != nil {
		return err
	}
	body := map[string]string{"Status": status}
	if _, err := c.send(ctx, http.MethodPut, endpoint, nil, body, nil, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to set pipeline endpoint %s status to %s: %w", id, status, err)
	}
	return nil
}

// SubmitPipelineEndpoint submits a run of the endpoint's default pipeline.
func (c *Client) SubmitPipelineEndpoint(ctx context.Context, endpointID, experiment string, params map[string]string) (*model.PipelineRun, error) {
	endpoint, err := c.serviceURL("pipelines", "PipelineRuns", "PipelineEndpointSubmit", "Id", endpointID)
	if err != nil {
		return nil, err
	}
	var run pipelineRun
	body := submitRequest{ExperimentName: experiment, ParameterAssignments: nonNil(params)}
	if _, err := c.send(ctx, http.MethodPost, endpoint, nil, body, &run, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("failed to submit pipeline endpoint %s: %w", endpointID, err)
	}
	return run.run(), nil
}

type scheduleRequest struct {
	Name               string           `json:"Name"`
	PipelineEndpointID string           `json:"PipelineEndpointId"`
	ExperimentName     string           `json:"ExperimentName"`
	Recurrence         model.Recurrence `json:"Recurrence"`
}

type scheduleResponse struct {
	ID string `json:"Id"`
}

// CreateSchedule creates a recurring trigger for an endpoint.
func (c *Client) CreateSchedule(ctx context.Context, req model.ScheduleRequest) (*model.Schedule, error) {
	endpoint, err := c.serviceURL("pipelines", "schedules")
	if err != nil {
		return nil, err
	}
	body := scheduleRequest{
		Name:               req.Name,
		PipelineEndpointID: req.EndpointID,
		ExperimentName:     req.Experiment,
		Recurrence:         req.Recurrence,
	}
	var created scheduleResponse
	if _, err := c.send(ctx, http.MethodPost, endpoint, nil, body, &created, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("failed to create schedule %s: %w", req.Name, err)
	}
	return &model.Schedule{
		ID:         created.ID,
		Name:       req.Name,
		EndpointID: req.EndpointID,
		Recurrence: req.Recurrence,
	}, nil
}

func nonNil(params map[string]string) map[string]string {
	if params == nil {
		return map[string]string{}
	}
	return params
}
