// Package environment builds the software environment shared by every step.
package environment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sourceplane/mlpipe/internal/model"
)

// BaselinePackages are always installed when dependencies are platform managed.
var BaselinePackages = []string{
	"azureml-defaults",
	"azureml-core",
	"azureml-dataprep[fuse]",
}

// Registry credentials for docker environments.
const (
	EnvDockerUsername = "DOCKER_USERNAME"
	EnvDockerPassword = "DOCKER_PASSWORD"
)

// CheckCredentials reports registry credential problems of a docker
// environment using only the process environment.
func CheckCredentials(spec model.EnvironmentSpec, getenv func(string) string) error {
	if spec.Docker == nil {
		return nil
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if getenv(EnvDockerUsername) != "" && getenv(EnvDockerPassword) == "" {
		return model.ErrConfiguration("%s must be set when %s is set", EnvDockerPassword, EnvDockerUsername)
	}
	return nil
}

// Registry looks up registered environments.
type Registry interface {
	GetEnvironment(ctx context.Context, name string) (*model.Environment, bool, error)
}

// Builder produces the run configuration for a pipeline.
type Builder struct {
	registry Registry
	logger   *slog.Logger
	workDir  string
	getenv   func(string) string
}

// NewBuilder creates a builder. Relative requirement files resolve against workDir.
func NewBuilder(registry Registry, workDir string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{registry: registry, logger: logger, workDir: workDir, getenv: os.Getenv}
}

// WithGetenv overrides the environment variable lookup.
func (b *Builder) WithGetenv(getenv func(string) string) *Builder {
	b.getenv = getenv
	return b
}

// Build returns the run configuration described by spec.
func (b *Builder) Build(ctx context.Context, spec model.EnvironmentSpec) (*model.RunConfig, error) {
	if spec.Docker != nil {
		return b.fromDocker(spec)
	}

	env := model.Environment{Name: spec.Name}
	if spec.Curated != "" {
		base, found, err := b.registry.GetEnvironment(ctx, spec.Curated)
		if err != nil {
			return nil, fmt.Errorf("failed to look up curated environment %s: %w", spec.Curated, err)
		}
		if !found {
			return nil, fmt.Errorf("curated environment %s not found", spec.Curated)
		}
		env = base.Clone(spec.Name)
		b.logger.Info("cloned curated environment", "base", spec.Curated, "name", spec.Name)
	} else {
		b.logger.Info("using blank environment", "name", spec.Name)
	}

	requirements, err := b.readRequirements(spec.RequirementsFile)
	if err != nil {
		return nil, err
	}
	env.UserManagedDependencies = false
	env.CondaPackages = nil
	env.PipPackages = dedupe(append(append([]string{}, BaselinePackages...), requirements...))

	return &model.RunConfig{Environment: env}, nil
}

func (b *Builder) fromDocker(spec model.EnvironmentSpec) (*model.RunConfig, error) {
	env := model.Environment{
		Name:                    spec.Name,
		BaseImage:               spec.Docker.Image,
		RegistryAddress:         spec.Docker.Registry,
		UserManagedDependencies: true,
	}

	if err := CheckCredentials(spec, b.getenv); err != nil {
		return nil, err
	}
	username := b.getenv(EnvDockerUsername)
	if username != "" {
		env.RegistryUsername = username
		env.RegistryPassword = b.getenv(EnvDockerPassword)
	}

	b.logger.Info("using docker environment", "image", spec.Docker.Image, "registry", spec.Docker.Registry, "authenticated", username != "")
	return &model.RunConfig{Environment: env, UseDocker: true}, nil
}

// readRequirements returns the non-blank, non-comment lines of path. A missing
// file yields no requirements.
func (b *Builder) readRequirements(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !filepath.IsAbs(path) && b.workDir != "" {
		path = filepath.Join(b.workDir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			b.logger.Warn("requirements file not found, installing baseline packages only", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open requirements file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read requirements file: %w", err)
	}
	return lines, nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
