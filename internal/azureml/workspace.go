package azureml

import (
	"context"
	"fmt"
	"path"
	"strings"
)

type armWorkspace struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	Properties struct {
		KeyVault       string `json:"keyVault"`
		StorageAccount string `json:"storageAccount"`
	} `json:"properties"`
}

// GetWorkspace fetches the workspace resource, verifying that the credential
// can reach it, and returns a client bound to the fetched details.
func (c *Client) GetWorkspace(ctx context.Context) (*Client, error) {
	var ws armWorkspace
	found, err := c.get(ctx, c.armURL(), armQuery(), &ws)
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace %s: %w", c.workspace.Name, err)
	}
	if !found {
		return nil, fmt.Errorf("workspace %s not found in resource group %s", c.workspace.Name, c.workspace.ResourceGroup)
	}

	details := c.workspace
	details.Location = ws.Location
	details.KeyVault = resourceName(ws.Properties.KeyVault)
	details.StorageAccount = resourceName(ws.Properties.StorageAccount)
	return c.ForWorkspace(details), nil
}

// KeyVaultURL returns the data-plane URL of the workspace key vault.
func (c *Client) KeyVaultURL() (string, error) {
	if c.workspace.KeyVault == "" {
		return "", fmt.Errorf("workspace %s has no key vault", c.workspace.Name)
	}
	return "https://" + c.workspace.KeyVault + ".vault.azure.net/", nil
}

// resourceName returns the last segment of an ARM resource id.
func resourceName(id string) string {
	if id == "" {
		return ""
	}
	return path.Base(strings.TrimSuffix(id, "/"))
}
