package model

import "time"

// Workspace identifies a connected Azure ML workspace.
type Workspace struct {
	SubscriptionID string `json:"subscriptionId"`
	ResourceGroup  string `json:"resourceGroup"`
	Name           string `json:"name"`
	Location       string `json:"location,omitempty"`
	KeyVault       string `json:"keyVault,omitempty"`
	StorageAccount string `json:"storageAccount,omitempty"`
}

// ResourceID returns the ARM resource id of the workspace.
func (w Workspace) ResourceID() string {
	return "/subscriptions/" + w.SubscriptionID +
		"/resourceGroups/" + w.ResourceGroup +
		"/providers/Microsoft.MachineLearningServices/workspaces/" + w.Name
}

// Provisioning states reported for compute targets.
const (
	ProvisioningCreating  = "Creating"
	ProvisioningSucceeded = "Succeeded"
	ProvisioningFailed    = "Failed"
	ProvisioningCanceled  = "Canceled"
	ProvisioningDeleting  = "Deleting"
	ProvisioningUpdating  = "Updating"
)

// Compute priorities.
const (
	PriorityLow       = "LowPriority"
	PriorityDedicated = "Dedicated"
)

// ComputeTarget is a named cluster in the workspace.
type ComputeTarget struct {
	Name              string `json:"name"`
	VMSize            string `json:"vmSize"`
	Priority          string `json:"priority"`
	MinNodes          int    `json:"minNodes"`
	MaxNodes          int    `json:"maxNodes"`
	ProvisioningState string `json:"provisioningState"`
}

// Ready reports whether the target finished provisioning.
func (c ComputeTarget) Ready() bool {
	return c.ProvisioningState == ProvisioningSucceeded
}

// ComputeRequest is the provisioning configuration for a new pool.
type ComputeRequest struct {
	Name     string
	VMSize   string
	Priority string
	MinNodes int
	MaxNodes int
}

// Dataset is a registered dataset handle.
type Dataset struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Datastore string `json:"datastore,omitempty"`
	Version   int    `json:"version,omitempty"`
}

// DatasetRequest registers a dataset on a datastore.
type DatasetRequest struct {
	Name        string
	Description string
	Type        string
	Datastore   string
	Path        string
	Query       string
}

// Datastore is a registered datastore handle.
type Datastore struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	AccountName string `json:"accountName,omitempty"`
	Container   string `json:"container,omitempty"`
	Server      string `json:"server,omitempty"`
	Database    string `json:"database,omitempty"`
	IsDefault   bool   `json:"isDefault,omitempty"`
}

// DatastoreRequest carries resolved credentials for registration.
type DatastoreRequest struct {
	Name         string
	Type         string
	AccountName  string
	Container    string
	AccountKey   string
	TenantID     string
	ClientID     string
	ClientSecret string
	Server       string
	Database     string
	Username     string
	Password     string
}

// Environment is the software environment shared by all steps.
type Environment struct {
	Name                    string   `json:"name"`
	Version                 string   `json:"version,omitempty"`
	BaseImage               string   `json:"baseImage,omitempty"`
	RegistryAddress         string   `json:"registryAddress,omitempty"`
	RegistryUsername        string   `json:"-"`
	RegistryPassword        string   `json:"-"`
	UserManagedDependencies bool     `json:"userManagedDependencies"`
	PipPackages             []string `json:"pipPackages,omitempty"`
	CondaPackages           []string `json:"condaPackages,omitempty"`
}

// Clone returns a copy registered under a new name.
func (e Environment) Clone(name string) Environment {
	clone := e
	clone.Name = name
	clone.Version = ""
	clone.PipPackages = append([]string(nil), e.PipPackages...)
	clone.CondaPackages = append([]string(nil), e.CondaPackages...)
	return clone
}

// RunConfig is the execution configuration shared by every step.
type RunConfig struct {
	Environment Environment `json:"environment"`
	UseDocker   bool        `json:"useDocker"`
}

// PublishedPipeline is a versioned, published pipeline.
type PublishedPipeline struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

// Endpoint statuses.
const (
	EndpointActive   = "Active"
	EndpointDisabled = "Disabled"
	EndpointDeleted  = "Deleted"
)

// PipelineEndpoint is a named, stable entry point to a published pipeline.
type PipelineEndpoint struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Status            string `json:"status"`
	DefaultPipelineID string `json:"defaultPipelineId,omitempty"`
}

// PipelineRun is a submitted run.
type PipelineRun struct {
	ID             string `json:"id"`
	ExperimentName string `json:"experimentName"`
	Status         string `json:"status,omitempty"`
}

// Recurrence is the platform representation of a schedule.
type Recurrence struct {
	Frequency string   `json:"frequency"`
	Interval  int      `json:"interval"`
	Hours     []int    `json:"hours,omitempty"`
	Minutes   []int    `json:"minutes,omitempty"`
	WeekDays  []string `json:"weekDays,omitempty"`
}

// Schedule triggers an endpoint on a recurrence.
type Schedule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	EndpointID string     `json:"endpointId"`
	Recurrence Recurrence `json:"recurrence"`
	NextRun    time.Time  `json:"nextRun,omitempty"`
}

// ScheduleRequest creates a recurring trigger for an endpoint.
type ScheduleRequest struct {
	Name       string
	EndpointID string
	Experiment string
	Recurrence Recurrence
}
