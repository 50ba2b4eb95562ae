package main

import (
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sourceplane/mlpipe/internal/azureml"
	"github.com/sourceplane/mlpipe/internal/compute"
	"github.com/sourceplane/mlpipe/internal/model"
)

// Environment variables tuning the CLI.
const (
	envLogLevel       = "MLPIPE_LOG_LEVEL"
	envLogFormat      = "MLPIPE_LOG_FORMAT"
	envComputeTimeout = "MLPIPE_COMPUTE_TIMEOUT"
	envAPIRPS         = "MLPIPE_API_RPS"
)

type settings struct {
	ComputeTimeout    time.Duration
	RequestsPerSecond float64
}

func loadSettings(getenv func(string) string) (settings, error) {
	s := settings{ComputeTimeout: compute.DefaultTimeout}
	issues := &model.ConfigurationError{}

	if v := getenv(envComputeTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			issues.Add("%s: invalid duration %q", envComputeTimeout, v)
		} else {
			s.ComputeTimeout = d
		}
	}
	if v := getenv(envAPIRPS); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			issues.Add("%s: invalid rate %q", envAPIRPS, v)
		} else {
			s.RequestsPerSecond = rps
		}
	}
	return s, issues.OrNil()
}

func (s settings) clientOptions() *azureml.ClientOptions {
	return &azureml.ClientOptions{RequestsPerSecond: s.RequestsPerSecond}
}

func newLogger(getenv func(string) string, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if v := getenv(envLogLevel); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return nil, model.ErrConfiguration("%s: unknown level %q", envLogLevel, v)
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	switch format := strings.ToLower(getenv(envLogFormat)); format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, model.ErrConfiguration("%s: unknown format %q", envLogFormat, format)
	}
}
