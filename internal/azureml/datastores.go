package azureml

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sourceplane/mlpipe/internal/model"
)

var datastoreTypes = map[string]string{
	model.DatastoreBlob:  "AzureBlob",
	model.DatastoreADLS2: "AzureDataLakeGen2",
	model.DatastoreSQL:   "AzureSqlDatabase",
}

type storageSection struct {
	AccountName    string `json:"accountName"`
	ContainerName  string `json:"containerName"`
	CredentialType string `json:"credentialType,omitempty"`
	Credential     string `json:"credential,omitempty"`
}

type servicePrincipalSection struct {
	TenantID     string `json:"tenantId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

type sqlSection struct {
	ServerName     string `json:"serverName"`
	DatabaseName   string `json:"databaseName"`
	CredentialType string `json:"credentialType,omitempty"`
	UserID         string `json:"userId,omitempty"`
	UserPassword   string `json:"userPassword,omitempty"`
}

type amlDatastore struct {
	Name                    string                   `json:"name"`
	DataStoreType           string                   `json:"dataStoreType"`
	IsDefault               bool                     `json:"isDefault,omitempty"`
	AzureStorageSection     *storageSection          `json:"azureStorageSection,omitempty"`
	AzureDataLakeSection    *storageSection          `json:"azureDataLakeSection,omitempty"`
	ServicePrincipalSection *servicePrincipalSection `json:"servicePrincipalSection,omitempty"`
	AzureSQLDatabaseSection *sqlSection              `json:"azureSqlDatabaseSection,omitempty"`
}

func (d amlDatastore) datastore() *model.Datastore {
	out := &model.Datastore{Name: d.Name, IsDefault: d.IsDefault}
	for kind, wire := range datastoreTypes {
		if wire == d.DataStoreType {
			out.Type = kind
		}
	}
	storage := d.AzureStorageSection
	if storage == nil {
		storage = d.AzureDataLakeSection
	}
	if storage != nil {
		out.AccountName = storage.AccountName
		out.Container = storage.ContainerName
	}
	if d.AzureSQLDatabaseSection != nil {
		out.Server = d.AzureSQLDatabaseSection.ServerName
		out.Database = d.AzureSQLDatabaseSection.DatabaseName
	}
	return out
}

// GetDatastore returns the named datastore, or found=false when absent.
func (c *Client) GetDatastore(ctx context.Context, name string) (*model.Datastore, bool, error) {
	endpoint, err := c.serviceURL("datastore", "datastores", name)
	if err != nil {
		return nil, false, err
	}
	var ds amlDatastore
	found, err := c.get(ctx, endpoint, nil, &ds)
	if err != nil || !found {
		return nil, found, err
	}
	return ds.datastore(), true, nil
}

// DefaultDatastore returns the workspace default datastore.
func (c *Client) DefaultDatastore(ctx context.Context) (*model.Datastore, error) {
	endpoint, err := c.serviceURL("datastore", "default")
	if err != nil {
		return nil, err
	}
	var ds amlDatastore
	found, err := c.get(ctx, endpoint, nil, &ds)
	if err != nil {
		return nil, fmt.Errorf("failed to get default datastore: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("workspace %s has no default datastore", c.workspace.Name)
	}
	return ds.datastore(), nil
}

// RegisterDatastore registers a datastore with resolved credentials.
func (c *Client) RegisterDatastore(ctx context.Context, req model.DatastoreRequest) (*model.Datastore, error) {
	wireType, ok := datastoreTypes[req.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported datastore type %s", req.Type)
	}

	body := amlDatastore{Name: req.Name, DataStoreType: wireType}
	switch req.Type {
	case model.DatastoreBlob:
		body.AzureStorageSection = &storageSection{
			AccountName:    req.AccountName,
			ContainerName:  req.Container,
			CredentialType: "AccountKey",
			Credential:     req.AccountKey,
		}
	case model.DatastoreADLS2:
		body.AzureDataLakeSection = &storageSection{AccountName: req.AccountName, ContainerName: req.Container}
		body.ServicePrincipalSection = &servicePrincipalSection{
			TenantID:     req.TenantID,
			ClientID:     req.ClientID,
			ClientSecret: req.ClientSecret,
		}
	case model.DatastoreSQL:
		body.AzureSQLDatabaseSection = &sqlSection{
			ServerName:     req.Server,
			DatabaseName:   req.Database,
			CredentialType: "SqlAuthentication",
			UserID:         req.Username,
			UserPassword:   req.Password,
		}
	}

	endpoint, err := c.serviceURL("datastore", "datastores")
	if err != nil {
		return nil, err
	}
	query := url.Values{"createIfNotExists": []string{"true"}}
	var created amlDatastore
	if _, err := c.send(ctx, http.MethodPost, endpoint, query, body, &created, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("failed to register datastore %s: %w", req.Name, err)
	}
	if created.Name == "" {
		created = body
	}
	return created.datastore(), nil
}

type sqlDataPath struct {
	SQLQuery string `json:"sqlQuery"`
}

type dataPath struct {
	DatastoreName string       `json:"datastoreName"`
	RelativePath  string       `json:"relativePath,omitempty"`
	SQLDataPath   *sqlDataPath `json:"sqlDataPath,omitempty"`
}

type amlDataset struct {
	DatasetID   string `json:"datasetId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DatasetType string `json:"datasetType"`
	Latest      struct {
		VersionID string    `json:"versionId,omitempty"`
		DataPath  *dataPath `json:"dataPath,omitempty"`
	} `json:"latest"`
}

func (d amlDataset) dataset() *model.Dataset {
	out := &model.Dataset{ID: d.DatasetID, Name: d.Name, Type: d.DatasetType}
	if d.Latest.DataPath != nil {
		out.Datastore = d.Latest.DataPath.DatastoreName
	}
	if v, err := strconv.Atoi(d.Latest.VersionID); err == nil {
		out.Version = v
	}
	return out
}

// GetDatasetByName returns the latest version of a registered dataset.
func (c *Client) GetDatasetByName(ctx context.Context, name string) (*model.Dataset, bool, error) {
	endpoint, err := c.serviceURL("dataset", "datasets", "query", "name="+name)
	if err != nil {
		return nil, false, err
	}
	var ds amlDataset
	found, err := c.get(ctx, endpoint, url.Values{"includeLatestDefinition": []string{"true"}}, &ds)
	if err != nil || !found {
		return nil, found, err
	}
	if ds.Name == "" {
		ds.Name = name
	}
	return ds.dataset(), true, nil
}

// RegisterDataset registers a file or tabular dataset on a datastore.
func (c *Client) RegisterDataset(ctx context.Context, req model.DatasetRequest) (*model.Dataset, error) {
	body := amlDataset{Name: req.Name, Description: req.Description, DatasetType: req.Type}
	body.Latest.DataPath = &dataPath{DatastoreName: req.Datastore, RelativePath: req.Path}
	if req.Query != "" {
		body.Latest.DataPath.SQLDataPath = &sqlDataPath{SQLQuery: req.Query}
	}

	endpoint, err := c.serviceURL("dataset", "datasets")
	if err != nil {
		return nil, err
	}
	query := url.Values{"register": []string{"true"}}
	var created amlDataset
	if _, err := c.send(ctx, http.MethodPost, endpoint, query, body, &created, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("failed to register dataset %s: %w", req.Name, err)
	}
	if created.Name == "" {
		created = body
	}
	return created.dataset(), nil
}
