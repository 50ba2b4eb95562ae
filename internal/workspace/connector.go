// Package workspace authenticates against Azure and connects to the Azure ML
// workspace named by the configuration or the environment.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/sourceplane/mlpipe/internal/azureml"
	"github.com/sourceplane/mlpipe/internal/model"
)

// Environment variables read by the connector.
const (
	EnvSubscriptionID = "SUBSCRIPTION_ID"
	EnvResourceGroup  = "RESOURCE_GROUP_NAME"
	EnvWorkspaceName  = "WORKSPACE_NAME"
	EnvTenantID       = "TENANT_ID"
	EnvClientID       = "SP_CLIENT_ID"
	EnvClientSecret   = "SP_SECRET"
)

// Options configure Connect.
type Options struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// WorkDir is where the from_config search starts. Defaults to the current directory.
	WorkDir string
	// Credential bypasses the auth mode's credential construction.
	Credential    azcore.TokenCredential
	ClientOptions *azureml.ClientOptions
	Logger        *slog.Logger
}

// Session is an authenticated connection to one workspace.
type Session struct {
	Workspace  model.Workspace
	Credential azcore.TokenCredential
	Client     *azureml.Client
}

// Connect resolves workspace coordinates and a credential for the configured
// auth mode, then fetches the workspace to verify access. Configuration
// problems are reported before any remote call.
func Connect(ctx context.Context, spec model.WorkspaceSpec, opts Options) (*Session, error) {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	coords, err := resolveCoordinates(spec, opts)
	if err != nil {
		return nil, err
	}

	cred := opts.Credential
	if cred == nil {
		cred, err = newCredential(spec.Auth, opts.Getenv)
		if err != nil {
			return nil, err
		}
	}

	client, err := azureml.NewClient(cred, coords, opts.ClientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace client: %w", err)
	}

	log := opts.Logger.With("workspace", coords.Name, "resource_group", coords.ResourceGroup, "auth", string(spec.Auth))
	log.Info("connecting to workspace")

	client, err = client.GetWorkspace(ctx)
	if err != nil {
		return nil, err
	}

	ws := client.Workspace()
	log.Info("connected to workspace", "location", ws.Location)
	return &Session{Workspace: ws, Credential: cred, Client: client}, nil
}

func resolveCoordinates(spec model.WorkspaceSpec, opts Options) (model.Workspace, error) {
	switch spec.Auth {
	case model.AuthFromConfig:
		return coordinatesFromConfig(spec.ConfigFile, opts.WorkDir)
	case model.AuthInteractive, model.AuthManagedIdentity:
		return coordinatesFromEnv(opts.Getenv)
	case model.AuthServicePrincipal:
		missing := missingVars(opts.Getenv, EnvSubscriptionID, EnvResourceGroup, EnvWorkspaceName, EnvTenantID, EnvClientID, EnvClientSecret)
		if len(missing) > 0 {
			return model.Workspace{}, &model.ConfigurationError{Issues: missing}
		}
		return coordinatesFromEnv(opts.Getenv)
	}
	return model.Workspace{}, model.ErrConfiguration("unsupported auth mode %q", spec.Auth)
}

func coordinatesFromEnv(getenv func(string) string) (model.Workspace, error) {
	if missing := missingVars(getenv, EnvSubscriptionID, EnvResourceGroup, EnvWorkspaceName); len(missing) > 0 {
		return model.Workspace{}, &model.ConfigurationError{Issues: missing}
	}
	return model.Workspace{
		SubscriptionID: getenv(EnvSubscriptionID),
		ResourceGroup:  getenv(EnvResourceGroup),
		Name:           getenv(EnvWorkspaceName),
	}, nil
}

func missingVars(getenv func(string) string, names ...string) []string {
	var missing []string
	for _, name := range names {
		if getenv(name) == "" {
			missing = append(missing, fmt.Sprintf("environment variable %s is not set", name))
		}
	}
	return missing
}

type configFile struct {
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
	WorkspaceName  string `json:"workspace_name"`
}

// coordinatesFromConfig reads an explicit config file, or the first
// config.json or .azureml/config.json found walking up from workDir.
func coordinatesFromConfig(path, workDir string) (model.Workspace, error) {
	if path == "" {
		found, err := findConfig(workDir)
		if err != nil {
			return model.Workspace{}, err
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.Workspace{}, model.ErrConfiguration("failed to read workspace config %s: %v", path, err)
	}
	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return model.Workspace{}, model.ErrConfiguration("failed to parse workspace config %s: %v", path, err)
	}

	issues := &model.ConfigurationError{}
	if cfg.SubscriptionID == "" {
		issues.Add("workspace config %s: subscription_id is required", path)
	}
	if cfg.ResourceGroup == "" {
		issues.Add("workspace config %s: resource_group is required", path)
	}
	if cfg.WorkspaceName == "" {
		issues.Add("workspace config %s: workspace_name is required", path)
	}
	if err := issues.OrNil(); err != nil {
		return model.Workspace{}, err
	}
	return model.Workspace{
		SubscriptionID: cfg.SubscriptionID,
		ResourceGroup:  cfg.ResourceGroup,
		Name:           cfg.WorkspaceName,
	}, nil
}

func findConfig(workDir string) (string, error) {
	dir := workDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to determine working directory: %w", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	for {
		for _, candidate := range []string{
			filepath.Join(dir, "config.json"),
			filepath.Join(dir, ".azureml", "config.json"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			} else if !errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("failed to stat %s: %w", candidate, err)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", model.ErrConfiguration("no config.json or .azureml/config.json found from %s upwards", workDir)
		}
		dir = parent
	}
}

// newCredential builds the azidentity credential for mode.
func newCredential(mode model.AuthMode, getenv func(string) string) (azcore.TokenCredential, error) {
	switch mode {
	case model.AuthFromConfig:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default credential: %w", err)
		}
		return cred, nil

	case model.AuthInteractive:
		cli, err := azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{TenantID: getenv(EnvTenantID)})
		if err != nil {
			return nil, fmt.Errorf("failed to create azure cli credential: %w", err)
		}
		browser, err := azidentity.NewInteractiveBrowserCredential(&azidentity.InteractiveBrowserCredentialOptions{TenantID: getenv(EnvTenantID)})
		if err != nil {
			return nil, fmt.Errorf("failed to create interactive browser credential: %w", err)
		}
		chain, err := azidentity.NewChainedTokenCredential([]azcore.TokenCredential{cli, browser}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create interactive credential: %w", err)
		}
		return chain, nil

	case model.AuthServicePrincipal:
		cred, err := azidentity.NewClientSecretCredential(getenv(EnvTenantID), getenv(EnvClientID), getenv(EnvClientSecret), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create service principal credential: %w", err)
		}
		return cred, nil

	case model.AuthManagedIdentity:
		cred, err := azidentity.NewManagedIdentityCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create managed identity credential: %w", err)
		}
		return cred, nil
	}
	return nil, model.ErrConfiguration("unsupported auth mode %q", mode)
}
