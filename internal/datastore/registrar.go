// Package datastore registers datastores and datasets in a workspace,
// resolving credentials from the workspace key vault.
package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sourceplane/mlpipe/internal/model"
)

// Workspace is the remote datastore and dataset API.
type Workspace interface {
	GetDatastore(ctx context.Context, name string) (*model.Datastore, bool, error)
	RegisterDatastore(ctx context.Context, req model.DatastoreRequest) (*model.Datastore, error)
	GetDatasetByName(ctx context.Context, name string) (*model.Dataset, bool, error)
	RegisterDataset(ctx context.Context, req model.DatasetRequest) (*model.Dataset, error)
}

// SecretStore resolves secret values by name.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Summary reports what Apply did.
type Summary struct {
	DatastoresRegistered []string
	DatastoresExisting   []string
	DatasetsRegistered   []string
	DatasetsExisting     []string
}

// Registrar gets or registers datastores and their datasets.
type Registrar struct {
	workspace Workspace
	secrets   SecretStore
	logger    *slog.Logger
}

// NewRegistrar creates a registrar.
func NewRegistrar(workspace Workspace, secrets SecretStore, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{workspace: workspace, secrets: secrets, logger: logger}
}

// Apply registers every datastore and dataset that does not exist yet.
// Existing ones are left unchanged, so Apply can be re-run safely.
func (r *Registrar) Apply(ctx context.Context, set *model.DatastoreSet) (*Summary, error) {
	summary := &Summary{}
	for _, spec := range set.Spec.Datastores {
		log := r.logger.With("datastore", spec.Name, "type", spec.Type)

		_, found, err := r.workspace.GetDatastore(ctx, spec.Name)
		if err != nil {
			return summary, fmt.Errorf("failed to look up datastore %s: %w", spec.Name, err)
		}
		if found {
			log.Info("datastore already registered")
			summary.DatastoresExisting = append(summary.DatastoresExisting, spec.Name)
		} else {
			req, err := r.datastoreRequest(ctx, spec)
			if err != nil {
				return summary, err
			}
			if _, err := r.workspace.RegisterDatastore(ctx, req); err != nil {
				return summary, fmt.Errorf("failed to register datastore %s: %w", spec.Name, err)
			}
			log.Info("registered datastore")
			summary.DatastoresRegistered = append(summary.DatastoresRegistered, spec.Name)
		}

		if err := r.applyDatasets(ctx, spec, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (r *Registrar) applyDatasets(ctx context.Context, spec model.DatastoreSpec, summary *Summary) error {
	names := make([]string, 0, len(spec.Datasets))
	for name := range spec.Datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ds := spec.Datasets[name]
		_, found, err := r.workspace.GetDatasetByName(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to look up dataset %s: %w", name, err)
		}
		if found {
			summary.DatasetsExisting = append(summary.DatasetsExisting, name)
			continue
		}
		if _, err := r.workspace.RegisterDataset(ctx, model.DatasetRequest{
			Name:        name,
			Description: ds.Description,
			Type:        ds.Type,
			Datastore:   spec.Name,
			Path:        ds.Path,
			Query:       ds.Query,
		}); err != nil {
			return fmt.Errorf("failed to register dataset %s: %w", name, err)
		}
		r.logger.Info("registered dataset", "dataset", name, "datastore", spec.Name, "type", ds.Type)
		summary.DatasetsRegistered = append(summary.DatasetsRegistered, name)
	}
	return nil
}

func (r *Registrar) datastoreRequest(ctx context.Context, spec model.DatastoreSpec) (model.DatastoreRequest, error) {
	req := model.DatastoreRequest{
		Name:        spec.Name,
		Type:        spec.Type,
		AccountName: spec.AccountName,
		Container:   spec.Container,
		Server:      spec.Server,
		Database:    spec.Database,
		Username:    spec.Username,
	}

	secret := func(name string, dst *string) error {
		value, err := r.secrets.GetSecret(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to read secret %s for datastore %s: %w", name, spec.Name, err)
		}
		*dst = value
		return nil
	}

	var err error
	switch spec.Type {
	case model.DatastoreBlob:
		err = secret(spec.AccountKeySecret, &req.AccountKey)
	case model.DatastoreADLS2:
		if err = secret(spec.TenantIDSecret, &req.TenantID); err == nil {
			if err = secret(spec.ClientIDSecret, &req.ClientID); err == nil {
				err = secret(spec.ClientSecret, &req.ClientSecret)
			}
		}
	case model.DatastoreSQL:
		err = secret(spec.PasswordSecret, &req.Password)
	default:
		err = model.ErrConfiguration("datastore %s: unsupported type %s", spec.Name, spec.Type)
	}
	return req, err
}
