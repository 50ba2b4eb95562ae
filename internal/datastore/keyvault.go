package datastore

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// SecretGetter is the subset of the Key Vault secrets client used here.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// Compile-time check: the SDK client satisfies SecretGetter.
var _ SecretGetter = (*azsecrets.Client)(nil)

// KeyVault reads the latest version of secrets from an Azure Key Vault.
type KeyVault struct {
	client SecretGetter
}

// NewKeyVault creates a secret store for the vault at vaultURL.
func NewKeyVault(vaultURL string, cred azcore.TokenCredential, opts *azsecrets.ClientOptions) (*KeyVault, error) {
	client, err := azsecrets.NewClient(vaultURL, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("create key vault client: %w", err)
	}
	return &KeyVault{client: client}, nil
}

// NewKeyVaultFromClient wraps an existing client.
func NewKeyVaultFromClient(client SecretGetter) *KeyVault {
	return &KeyVault{client: client}
}

// GetSecret returns the latest value of the named secret.
func (k *KeyVault) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := k.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return "", err
	}
	if resp.Value == nil {
		return "", fmt.Errorf("secret %s has no value", name)
	}
	return *resp.Value, nil
}
