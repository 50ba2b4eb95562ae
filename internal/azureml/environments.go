package azureml

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sourceplane/mlpipe/internal/model"
)

type amlEnvironment struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Python  struct {
		UserManagedDependencies bool `json:"userManagedDependencies"`
		CondaDependencies       struct {
			Dependencies []json.RawMessage `json:"dependencies"`
		} `json:"condaDependencies"`
	} `json:"python"`
	Docker struct {
		BaseImage         string `json:"baseImage,omitempty"`
		BaseImageRegistry struct {
			Address  string `json:"address,omitempty"`
			Username string `json:"username,omitempty"`
			Password string `json:"password,omitempty"`
		} `json:"baseImageRegistry"`
	} `json:"docker"`
}

// environment splits conda dependencies into plain conda packages and the
// nested pip section.
func (e amlEnvironment) environment() (*model.Environment, error) {
	out := &model.Environment{
		Name:                    e.Name,
		Version:                 e.Version,
		BaseImage:               e.Docker.BaseImage,
		RegistryAddress:         e.Docker.BaseImageRegistry.Address,
		UserManagedDependencies: e.Python.UserManagedDependencies,
	}
	for _, raw := range e.Python.CondaDependencies.Dependencies {
		var pkg string
		if err := json.Unmarshal(raw, &pkg); err == nil {
			out.CondaPackages = append(out.CondaPackages, pkg)
			continue
		}
		var pip struct {
			Pip []string `json:"pip"`
		}
		if err := json.Unmarshal(raw, &pip); err != nil {
			return nil, fmt.Errorf("unexpected conda dependency %s: %w", string(raw), err)
		}
		out.PipPackages = append(out.PipPackages, pip.Pip...)
	}
	return out, nil
}

// GetEnvironment returns the latest version of a registered or curated environment.
func (c *Client) GetEnvironment(ctx context.Context, name string) (*model.Environment, bool, error) {
	endpoint, err := c.serviceURL("environment", "environments", name)
	if err != nil {
		return nil, false, err
	}
	var env amlEnvironment
	found, err := c.get(ctx, endpoint, nil, &env)
	if err != nil || !found {
		return nil, found, err
	}
	out, err := env.environment()
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode environment %s: %w", name, err)
	}
	return out, true, nil
}

// wireEnvironment converts an environment definition to its wire form.
func wireEnvironment(env model.Environment) (amlEnvironment, error) {
	var out amlEnvironment
	out.Name = env.Name
	out.Version = env.Version
	out.Python.UserManagedDependencies = env.UserManagedDependencies
	out.Docker.BaseImage = env.BaseImage
	out.Docker.BaseImageRegistry.Address = env.RegistryAddress
	out.Docker.BaseImageRegistry.Username = env.RegistryUsername
	out.Docker.BaseImageRegistry.Password = env.RegistryPassword

	deps := make([]json.RawMessage, 0, len(env.CondaPackages)+1)
	for _, pkg := range env.CondaPackages {
		raw, err := json.Marshal(pkg)
		if err != nil {
			return out, err
		}
		deps = append(deps, raw)
	}
	if len(env.PipPackages) > 0 {
		raw, err := json.Marshal(map[string][]string{"pip": env.PipPackages})
		if err != nil {
			return out, err
		}
		deps = append(deps, raw)
	}
	out.Python.CondaDependencies.Dependencies = deps
	return out, nil
}
