package model

import "sort"

// Document kinds accepted by the loader.
const (
	APIVersion       = "sourceplane.io/v1"
	KindPipeline     = "MLPipeline"
	KindDatastoreSet = "DatastoreSet"
)

// Hardware classes a compute pool can belong to.
const (
	HardwareCPU = "cpu"
	HardwareGPU = "gpu"
)

// AuthMode selects how the workspace connection authenticates.
type AuthMode string

const (
	AuthFromConfig       AuthMode = "from_config"
	AuthInteractive      AuthMode = "interactive"
	AuthServicePrincipal AuthMode = "service_principal"
	AuthManagedIdentity  AuthMode = "managed_identity"
)

// Valid reports whether the mode is one of the supported authentication modes.
func (m AuthMode) Valid() bool {
	switch m {
	case AuthFromConfig, AuthInteractive, AuthServicePrincipal, AuthManagedIdentity:
		return true
	}
	return false
}

// RunDatetimeParam is the parameter injected into every step.
const RunDatetimeParam = "run_datetime"

// Metadata holds standard object metadata
type Metadata struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// PipelineConfig is the top-level declarative pipeline document
type PipelineConfig struct {
	APIVersion string       `yaml:"apiVersion" json:"apiVersion"`
	Kind       string       `yaml:"kind" json:"kind"`
	Metadata   Metadata     `yaml:"metadata" json:"metadata"`
	Spec       PipelineSpec `yaml:"spec" json:"spec"`
}

// PipelineSpec describes the experiment, its endpoint and its steps.
type PipelineSpec struct {
	Experiment      string          `yaml:"experiment" json:"experiment"`
	Pipeline        PipelineInfo    `yaml:"pipeline" json:"pipeline"`
	Endpoint        EndpointSpec    `yaml:"endpoint" json:"endpoint"`
	Workspace       WorkspaceSpec   `yaml:"workspace" json:"workspace"`
	Environment     EnvironmentSpec `yaml:"environment" json:"environment"`
	Compute         ComputeSizing   `yaml:"compute" json:"compute"`
	SourceDirPrefix string          `yaml:"sourceDirPrefix" json:"sourceDirPrefix"`
	Steps           []StepSpec      `yaml:"steps" json:"steps"`
}

// PipelineInfo names the published pipeline.
type PipelineInfo struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
}

// EndpointSpec controls endpoint deployment.
type EndpointSpec struct {
	Name         string `yaml:"name,omitempty" json:"name,omitempty"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
	Deploy       bool   `yaml:"deploy" json:"deploy"`
	RunInstantly bool   `yaml:"runInstantly" json:"runInstantly"`
	Schedule     string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// WorkspaceSpec selects the authentication mode.
type WorkspaceSpec struct {
	Auth       AuthMode `yaml:"auth" json:"auth"`
	ConfigFile string   `yaml:"configFile,omitempty" json:"configFile,omitempty"`
}

// EnvironmentSpec is either a curated base, a docker image, or neither (blank).
type EnvironmentSpec struct {
	Name             string      `yaml:"name" json:"name"`
	Curated          string      `yaml:"curated,omitempty" json:"curated,omitempty"`
	Docker           *DockerSpec `yaml:"docker,omitempty" json:"docker,omitempty"`
	RequirementsFile string      `yaml:"requirementsFile,omitempty" json:"requirementsFile,omitempty"`
}

// DockerSpec pins the environment to a registry image.
type DockerSpec struct {
	Image    string `yaml:"image" json:"image"`
	Registry string `yaml:"registry" json:"registry"`
}

// ClusterSizing is the node range and hardware of one pool.
type ClusterSizing struct {
	Min      int    `yaml:"min" json:"min"`
	Max      int    `yaml:"max" json:"max"`
	VMSize   string `yaml:"vmSize,omitempty" json:"vmSize,omitempty"`
	Priority string `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// ComputeSizing maps hardware class -> pool name -> sizing.
type ComputeSizing map[string]map[string]ClusterSizing

// PoolRef identifies one pool in the sizing tables.
type PoolRef struct {
	Class  string
	Name   string
	Sizing ClusterSizing
}

// Pools flattens the sizing tables in a stable order (class, then pool name).
func (c ComputeSizing) Pools() []PoolRef {
	classes := make([]string, 0, len(c))
	for class := range c {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	var pools []PoolRef
	for _, class := range classes {
		names := make([]string, 0, len(c[class]))
		for name := range c[class] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			pools = append(pools, PoolRef{Class: class, Name: name, Sizing: c[class][name]})
		}
	}
	return pools
}

// Lookup returns the pool with the given name from any class.
func (c ComputeSizing) Lookup(name string) (PoolRef, bool) {
	for _, pool := range c.Pools() {
		if pool.Name == name {
			return pool, true
		}
	}
	return PoolRef{}, false
}

// StepSpec is one scripted step as declared in the config.
type StepSpec struct {
	Name            string            `yaml:"name" json:"name"`
	Script          string            `yaml:"script" json:"script"`
	SourceDir       string            `yaml:"sourceDir" json:"sourceDir"`
	Compute         string            `yaml:"compute" json:"compute"`
	RunWithPrevious bool              `yaml:"runWithPrevious" json:"runWithPrevious"`
	InputDatasets   map[string]string `yaml:"inputDatasets,omitempty" json:"inputDatasets,omitempty"`
	Params          map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// DatastoreSet is the datastore registration document
type DatastoreSet struct {
	APIVersion string           `yaml:"apiVersion" json:"apiVersion"`
	Kind       string           `yaml:"kind" json:"kind"`
	Metadata   Metadata         `yaml:"metadata" json:"metadata"`
	Spec       DatastoreSetSpec `yaml:"spec" json:"spec"`
}

// DatastoreSetSpec lists datastores to register in the workspace.
type DatastoreSetSpec struct {
	Workspace  WorkspaceSpec   `yaml:"workspace" json:"workspace"`
	Datastores []DatastoreSpec `yaml:"datastores" json:"datastores"`
}

// Datastore types.
const (
	DatastoreBlob  = "BLOB"
	DatastoreADLS2 = "ADLS2"
	DatastoreSQL   = "SQL"
)

// Dataset types.
const (
	DatasetFile    = "file"
	DatasetTabular = "tabular"
)

// DatastoreSpec declares one datastore. Credentials are Key Vault secret names.
type DatastoreSpec struct {
	Name             string                 `yaml:"name" json:"name"`
	Type             string                 `yaml:"type" json:"type"`
	AccountName      string                 `yaml:"accountName,omitempty" json:"accountName,omitempty"`
	Container        string                 `yaml:"container,omitempty" json:"container,omitempty"`
	AccountKeySecret string                 `yaml:"accountKeySecret,omitempty" json:"accountKeySecret,omitempty"`
	TenantIDSecret   string                 `yaml:"tenantIdSecret,omitempty" json:"tenantIdSecret,omitempty"`
	ClientIDSecret   string                 `yaml:"clientIdSecret,omitempty" json:"clientIdSecret,omitempty"`
	ClientSecret     string                 `yaml:"clientSecretSecret,omitempty" json:"clientSecretSecret,omitempty"`
	Server           string                 `yaml:"server,omitempty" json:"server,omitempty"`
	Database         string                 `yaml:"database,omitempty" json:"database,omitempty"`
	Username         string                 `yaml:"username,omitempty" json:"username,omitempty"`
	PasswordSecret   string                 `yaml:"passwordSecret,omitempty" json:"passwordSecret,omitempty"`
	Datasets         map[string]DatasetSpec `yaml:"datasets,omitempty" json:"datasets,omitempty"`
}

// DatasetSpec declares a dataset backed by a datastore.
type DatasetSpec struct {
	Type        string `yaml:"type" json:"type"`
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
	Query       string `yaml:"query,omitempty" json:"query,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}
