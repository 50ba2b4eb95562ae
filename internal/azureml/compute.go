package azureml

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sourceplane/mlpipe/internal/model"
)

type amlCompute struct {
	Name       string `json:"name,omitempty"`
	Location   string `json:"location,omitempty"`
	Properties struct {
		ComputeType       string `json:"computeType"`
		ProvisioningState string `json:"provisioningState,omitempty"`
		Properties        struct {
			VMSize        string `json:"vmSize"`
			VMPriority    string `json:"vmPriority"`
			ScaleSettings struct {
				MinNodeCount                int    `json:"minNodeCount"`
				MaxNodeCount                int    `json:"maxNodeCount"`
				NodeIdleTimeBeforeScaleDown string `json:"nodeIdleTimeBeforeScaleDown,omitempty"`
			} `json:"scaleSettings"`
		} `json:"properties"`
	} `json:"properties"`
}

func (a amlCompute) target() *model.ComputeTarget {
	return &model.ComputeTarget{
		Name:              a.Name,
		VMSize:            a.Properties.Properties.VMSize,
		Priority:          a.Properties.Properties.VMPriority,
		MinNodes:          a.Properties.Properties.ScaleSettings.MinNodeCount,
		MaxNodes:          a.Properties.Properties.ScaleSettings.MaxNodeCount,
		ProvisioningState: a.Properties.ProvisioningState,
	}
}

// GetCompute returns the named compute target, or found=false when absent.
func (c *Client) GetCompute(ctx context.Context, name string) (*model.ComputeTarget, bool, error) {
	var compute amlCompute
	found, err := c.get(ctx, c.armURL("computes", name), armQuery(), &compute)
	if err != nil || !found {
		return nil, found, err
	}
	if compute.Name == "" {
		compute.Name = name
	}
	return compute.target(), true, nil
}

// CreateCompute starts provisioning an AmlCompute cluster.
func (c *Client) CreateCompute(ctx context.Context, req model.ComputeRequest) (*model.ComputeTarget, error) {
	var body amlCompute
	body.Location = c.workspace.Location
	body.Properties.ComputeType = "AmlCompute"
	body.Properties.Properties.VMSize = req.VMSize
	body.Properties.Properties.VMPriority = req.Priority
	body.Properties.Properties.ScaleSettings.MinNodeCount = req.MinNodes
	body.Properties.Properties.ScaleSettings.MaxNodeCount = req.MaxNodes
	body.Properties.Properties.ScaleSettings.NodeIdleTimeBeforeScaleDown = "PT120S"

	var created amlCompute
	_, err := c.send(ctx, http.MethodPut, c.armURL("computes", req.Name), armQuery(), body, &created, http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute %s: %w", req.Name, err)
	}
	if created.Name == "" {
		created.Name = req.Name
	}
	target := created.target()
	if target.ProvisioningState == "" {
		target.ProvisioningState = model.ProvisioningCreating
	}
	return target, nil
}
