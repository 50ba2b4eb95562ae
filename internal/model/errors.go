package model

import (
	"fmt"
	"strings"
	"time"
)

// ConfigurationError reports an invalid or incomplete configuration.
// It is raised before any remote call is made.
type ConfigurationError struct {
	Issues []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid configuration"
	}
	return "invalid configuration: " + strings.Join(e.Issues, "; ")
}

// Add records an issue.
func (e *ConfigurationError) Add(format string, args ...interface{}) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

// OrNil returns nil when no issue was recorded.
func (e *ConfigurationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// ErrConfiguration creates a ConfigurationError with a single formatted issue.
func ErrConfiguration(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Issues: []string{fmt.Sprintf(format, args...)}}
}

// ProvisioningTimeoutError indicates a compute target did not become ready in time.
type ProvisioningTimeoutError struct {
	Target  string
	Timeout time.Duration
	// LastErr is the last remote error seen while polling, if any.
	LastErr error
}

func (e *ProvisioningTimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("compute target %s not ready after %s: last error: %v", e.Target, e.Timeout, e.LastErr)
	}
	return fmt.Sprintf("compute target %s not ready after %s", e.Target, e.Timeout)
}

func (e *ProvisioningTimeoutError) Unwrap() error {
	return e.LastErr
}

// ProvisioningFailedError indicates a compute target ended in a terminal failure state.
type ProvisioningFailedError struct {
	Target string
	State  string
}

func (e *ProvisioningFailedError) Error() string {
	return fmt.Sprintf("compute target %s provisioning ended in state %s", e.Target, e.State)
}
