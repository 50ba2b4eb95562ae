// Package compute resolves named compute pools to ready compute targets,
// creating the referenced ones that do not exist yet.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/cenkalti/backoff/v4"

	"github.com/sourceplane/mlpipe/internal/model"
)

// DefaultTimeout bounds the wait for targets to finish provisioning.
const DefaultTimeout = 180 * time.Minute

// Provider is the remote compute API.
type Provider interface {
	GetCompute(ctx context.Context, name string) (*model.ComputeTarget, bool, error)
	CreateCompute(ctx context.Context, req model.ComputeRequest) (*model.ComputeTarget, error)
}

// Usage reports which pools the pipeline steps run on.
type Usage interface {
	Referenced(pool string) bool
	Steps(pool string) []string
}

// Options tune the readiness wait.
type Options struct {
	Timeout time.Duration
	// NewBackOff returns the poll interval policy. Defaults to exponential
	// backoff between 5s and 1m.
	NewBackOff func() backoff.BackOff
}

// Resolver maps pools in the sizing tables to compute targets.
type Resolver struct {
	provider Provider
	logger   *slog.Logger
	opts     Options
}

// NewResolver creates a resolver.
func NewResolver(provider Provider, logger *slog.Logger, opts Options) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 5 * time.Second
			b.MaxInterval = time.Minute
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &Resolver{provider: provider, logger: logger, opts: opts}
}

// Resolve looks up every pool in sizing. Missing pools are created only when
// a step runs on them; unreferenced missing pools are skipped. It then waits
// for all found or created targets to become ready.
func (r *Resolver) Resolve(ctx context.Context, sizing model.ComputeSizing, usage Usage) (map[string]*model.ComputeTarget, error) {
	targets := make(map[string]*model.ComputeTarget)

	for _, pool := range sizing.Pools() {
		log := r.logger.With("pool", pool.Name, "class", pool.Class)

		target, found, err := r.provider.GetCompute(ctx, pool.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up compute target %s: %w", pool.Name, err)
		}
		if found {
			log.Info("found existing compute target", "state", target.ProvisioningState)
			targets[pool.Name] = target
			continue
		}
		if !usage.Referenced(pool.Name) {
			log.Debug("compute target not found and not referenced, skipping")
			continue
		}

		log.Info("creating compute target", "vm_size", pool.Sizing.VMSize, "min", pool.Sizing.Min, "max", pool.Sizing.Max, "steps", usage.Steps(pool.Name))
		target, err = r.provider.CreateCompute(ctx, model.ComputeRequest{
			Name:     pool.Name,
			VMSize:   pool.Sizing.VMSize,
			Priority: pool.Sizing.Priority,
			MinNodes: pool.Sizing.Min,
			MaxNodes: pool.Sizing.Max,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create compute target %s: %w", pool.Name, err)
		}
		targets[pool.Name] = target
	}

	for _, pool := range sizing.Pools() {
		target, ok := targets[pool.Name]
		if !ok {
			continue
		}
		ready, err := r.waitReady(ctx, target)
		if err != nil {
			return nil, err
		}
		targets[pool.Name] = ready
	}

	return targets, nil
}

// waitReady polls the target until it reports Succeeded, fails, or the timeout elapses.
func (r *Resolver) waitReady(ctx context.Context, target *model.ComputeTarget) (*model.ComputeTarget, error) {
	if target.Ready() {
		return target, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	current := target
	var lastErr error
	remoteFailed := false
	poll := func() error {
		t, found, err := r.provider.GetCompute(waitCtx, target.Name)
		if err != nil {
			if transient(err) {
				lastErr = err
				return err
			}
			remoteFailed = waitCtx.Err() == nil
			return backoff.Permanent(err)
		}
		if !found {
			return backoff.Permanent(fmt.Errorf("compute target %s disappeared while provisioning", target.Name))
		}
		current = t
		switch t.ProvisioningState {
		case model.ProvisioningSucceeded:
			return nil
		case model.ProvisioningFailed, model.ProvisioningCanceled:
			return backoff.Permanent(&model.ProvisioningFailedError{Target: t.Name, State: t.ProvisioningState})
		}
		return fmt.Errorf("compute target %s is %s", t.Name, t.ProvisioningState)
	}

	notify := func(err error, next time.Duration) {
		r.logger.Debug("waiting for compute target", "pool", target.Name, "state", current.ProvisioningState, "retry_in", next)
	}

	start := time.Now()
	err := backoff.RetryNotify(poll, backoff.WithContext(r.opts.NewBackOff(), waitCtx), notify)
	if err != nil {
		if !remoteFailed && ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, &model.ProvisioningTimeoutError{Target: target.Name, Timeout: r.opts.Timeout, LastErr: lastErr}
		}
		var failed *model.ProvisioningFailedError
		if errors.As(err, &failed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed waiting for compute target %s: %w", target.Name, err)
	}

	r.logger.Info("compute target ready", "pool", target.Name, "waited", time.Since(start).Round(time.Second))
	return current, nil
}

// transient reports whether a failed poll is worth retrying. Throttling and
// server errors are; anything else, such as an authorization failure, is not.
func transient(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusTooManyRequests || respErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}
