package datastore

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/mlpipe/internal/model"
	"github.com/sourceplane/mlpipe/internal/testutil"
)

type capturingWorkspace struct {
	*testutil.FakeWorkspace
	requests []model.DatastoreRequest
	datasets []model.DatasetRequest
}

func (c *capturingWorkspace) RegisterDatastore(ctx context.Context, req model.DatastoreRequest) (*model.Datastore, error) {
	c.requests = append(c.requests, req)
	return c.FakeWorkspace.RegisterDatastore(ctx, req)
}

func (c *capturingWorkspace) RegisterDataset(ctx context.Context, req model.DatasetRequest) (*model.Dataset, error) {
	c.datasets = append(c.datasets, req)
	return c.FakeWorkspace.RegisterDataset(ctx, req)
}

func sampleSet() *model.DatastoreSet {
	return &model.DatastoreSet{
		Spec: model.DatastoreSetSpec{
			Datastores: []model.DatastoreSpec{
				{
					Name:             "raw",
					Type:             model.DatastoreBlob,
					AccountName:      "rawstore",
					Container:        "landing",
					AccountKeySecret: "raw-key",
					Datasets: map[string]model.DatasetSpec{
						"sales":  {Type: model.DatasetTabular, Path: "sales/*.csv"},
						"images": {Type: model.DatasetFile, Path: "images/"},
					},
				},
				{
					Name:           "warehouse",
					Type:           model.DatastoreSQL,
					Server:         "dw",
					Database:       "analytics",
					Username:       "reader",
					PasswordSecret: "dw-password",
					Datasets: map[string]model.DatasetSpec{
						"customers": {Type: model.DatasetTabular, Query: "SELECT * FROM customers"},
					},
				},
			},
		},
	}
}

func TestApplyRegistersMissing(t *testing.T) {
	fake := testutil.NewFakeWorkspace()
	fake.Secrets["raw-key"] = "key-value"
	fake.Secrets["dw-password"] = "pw-value"
	ws := &capturingWorkspace{FakeWorkspace: fake}

	summary, err := NewRegistrar(ws, fake, nil).Apply(context.Background(), sampleSet())
	require.NoError(t, err)

	assert.Equal(t, []string{"raw", "warehouse"}, summary.DatastoresRegistered)
	assert.Equal(t, []string{"images", "sales", "customers"}, summary.DatasetsRegistered)
	assert.Empty(t, summary.DatastoresExisting)

	require.Len(t, ws.requests, 2)
	assert.Equal(t, "key-value", ws.requests[0].AccountKey)
	assert.Equal(t, "pw-value", ws.requests[1].Password)
	assert.Equal(t, "reader", ws.requests[1].Username)

	require.Len(t, ws.datasets, 3)
	assert.Equal(t, "raw", ws.datasets[0].Datastore)
	assert.Equal(t, "SELECT * FROM customers", ws.datasets[2].Query)
}

func TestApplySkipsExisting(t *testing.T) {
	fake := testutil.NewFakeWorkspace()
	fake.Datastores["raw"] = &model.Datastore{Name: "raw", Type: model.DatastoreBlob}
	fake.Datasets["sales"] = &model.Dataset{ID: "ds-1", Name: "sales"}
	fake.Secrets["dw-password"] = "pw-value"
	ws := &capturingWorkspace{FakeWorkspace: fake}

	summary, err := NewRegistrar(ws, fake, nil).Apply(context.Background(), sampleSet())
	require.NoError(t, err)

	assert.Equal(t, []string{"raw"}, summary.DatastoresExisting)
	assert.Equal(t, []string{"warehouse"}, summary.DatastoresRegistered)
	assert.Equal(t, []string{"sales"}, summary.DatasetsExisting)
	assert.Equal(t, []string{"images", "customers"}, summary.DatasetsRegistered)
	assert.Empty(t, fake.CallsWithPrefix("GetSecret raw-key"))
}

func TestApplyMissingSecret(t *testing.T) {
	fake := testutil.NewFakeWorkspace()
	ws := &capturingWorkspace{FakeWorkspace: fake}

	_, err := NewRegistrar(ws, fake, nil).Apply(context.Background(), sampleSet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret raw-key")
	assert.Empty(t, ws.requests)
}

func TestApplyADLSResolvesServicePrincipal(t *testing.T) {
	fake := testutil.NewFakeWorkspace()
	fake.Secrets["tenant"] = "t"
	fake.Secrets["client"] = "c"
	fake.Secrets["secret"] = "s"
	ws := &capturingWorkspace{FakeWorkspace: fake}

	set := &model.DatastoreSet{Spec: model.DatastoreSetSpec{Datastores: []model.DatastoreSpec{{
		Name:           "lake",
		Type:           model.DatastoreADLS2,
		AccountName:    "lakeacct",
		Container:      "fs",
		TenantIDSecret: "tenant",
		ClientIDSecret: "client",
		ClientSecret:   "secret",
	}}}}

	_, err := NewRegistrar(ws, fake, nil).Apply(context.Background(), set)
	require.NoError(t, err)
	require.Len(t, ws.requests, 1)
	assert.Equal(t, "t", ws.requests[0].TenantID)
	assert.Equal(t, "c", ws.requests[0].ClientID)
	assert.Equal(t, "s", ws.requests[0].ClientSecret)
}

type stubSecrets struct {
	value *string
	err   error
	names []string
}

func (s *stubSecrets) GetSecret(_ context.Context, name, version string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	s.names = append(s.names, name+"@"+version)
	var resp azsecrets.GetSecretResponse
	resp.Value = s.value
	return resp, s.err
}

func TestKeyVaultGetSecret(t *testing.T) {
	value := "hunter2"
	stub := &stubSecrets{value: &value}

	got, err := NewKeyVaultFromClient(stub).GetSecret(context.Background(), "db-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
	assert.Equal(t, []string{"db-password@"}, stub.names)

	_, err = NewKeyVaultFromClient(&stubSecrets{}).GetSecret(context.Background(), "empty")
	assert.EqualError(t, err, "secret empty has no value")

	_, err = NewKeyVaultFromClient(&stubSecrets{err: errors.New("forbidden")}).GetSecret(context.Background(), "x")
	assert.EqualError(t, err, "forbidden")
}
