package runner

import (
	"context"
	"fmt"

	"github.com/sourceplane/mlpipe/internal/azureml"
	"github.com/sourceplane/mlpipe/internal/datastore"
	"github.com/sourceplane/mlpipe/internal/model"
	"github.com/sourceplane/mlpipe/internal/snapshot"
	"github.com/sourceplane/mlpipe/internal/workspace"
)

// Compile-time check: the REST client serves every runner dependency.
var _ Backend = (*azureml.Client)(nil)

// AzureConnector connects to Azure ML with the given connector options.
func AzureConnector(opts workspace.Options) Connector {
	return func(ctx context.Context, spec model.WorkspaceSpec) (*Connection, error) {
		session, err := workspace.Connect(ctx, spec, opts)
		if err != nil {
			return nil, err
		}

		conn := &Connection{
			Workspace: session.Workspace,
			Backend:   session.Client,
			Blobs:     snapshot.AzureBlobFactory(session.Credential, nil),
		}

		if vaultURL, err := session.Client.KeyVaultURL(); err == nil {
			secrets, err := datastore.NewKeyVault(vaultURL, session.Credential, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to open workspace key vault: %w", err)
			}
			conn.Secrets = secrets
		}
		return conn, nil
	}
}
