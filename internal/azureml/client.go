// Package azureml is a REST client for the Azure Resource Manager and Azure
// Machine Learning (v1) workspace services, built on the Azure SDK core
// pipeline.
package azureml

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"golang.org/x/time/rate"

	"github.com/sourceplane/mlpipe/internal/model"
)

const (
	moduleName    = "mlpipe"
	moduleVersion = "v0.1.0"

	// DefaultManagementEndpoint is the public cloud resource manager.
	DefaultManagementEndpoint = "https://management.azure.com"
	// ManagementScope is the token scope accepted by both ARM and the workspace services.
	ManagementScope = "https://management.azure.com/.default"

	armAPIVersion = "2023-10-01"
)

// ClientOptions configure the client.
type ClientOptions struct {
	azcore.ClientOptions

	// ManagementEndpoint overrides DefaultManagementEndpoint.
	ManagementEndpoint string
	// ServiceEndpoint overrides the regional https://<location>.api.azureml.ms endpoint.
	ServiceEndpoint string
	// RequestsPerSecond throttles outgoing requests. Zero disables throttling.
	RequestsPerSecond float64
}

// Client talks to one workspace.
type Client struct {
	pl        runtime.Pipeline
	workspace model.Workspace
	mgmt      string
	svc       string
	svcFixed  bool
}

// NewClient creates a client for the workspace coordinates in ws.
func NewClient(cred azcore.TokenCredential, ws model.Workspace, opts *ClientOptions) (*Client, error) {
	if cred == nil {
		return nil, fmt.Errorf("credential cannot be nil")
	}
	if opts == nil {
		opts = &ClientOptions{}
	}

	var perCall []policy.Policy
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		perCall = append(perCall, &throttlePolicy{limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)})
	}

	bearer := runtime.NewBearerTokenPolicy(cred, []string{ManagementScope}, &policy.BearerTokenOptions{
		InsecureAllowCredentialWithHTTP: opts.InsecureAllowCredentialWithHTTP,
	})

	clientOpts := opts.ClientOptions
	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerCall:  perCall,
		PerRetry: []policy.Policy{bearer},
	}, &clientOpts)

	mgmt := strings.TrimSuffix(opts.ManagementEndpoint, "/")
	if mgmt == "" {
		mgmt = DefaultManagementEndpoint
	}

	c := &Client{pl: pl, workspace: ws, mgmt: mgmt}
	if opts.ServiceEndpoint != "" {
		c.svc = strings.TrimSuffix(opts.ServiceEndpoint, "/")
		c.svcFixed = true
	} else if ws.Location != "" {
		c.svc = regionalEndpoint(ws.Location)
	}
	return c, nil
}

// ForWorkspace returns a client bound to ws, deriving the regional service
// endpoint from its location unless one was configured.
func (c *Client) ForWorkspace(ws model.Workspace) *Client {
	clone := *c
	clone.workspace = ws
	if !clone.svcFixed && ws.Location != "" {
		clone.svc = regionalEndpoint(ws.Location)
	}
	return &clone
}

// Workspace returns the workspace the client is bound to.
func (c *Client) Workspace() model.Workspace {
	return c.workspace
}

func regionalEndpoint(location string) string {
	return "https://" + strings.ToLower(strings.ReplaceAll(location, " ", "")) + ".api.azureml.ms"
}

// armURL joins segments below the workspace resource id.
func (c *Client) armURL(segments ...string) string {
	return joinEscaped(c.mgmt+c.workspace.ResourceID(), segments...)
}

// serviceURL joins segments below <service>/v1.0/<workspace resource id>.
func (c *Client) serviceURL(service string, segments ...string) (string, error) {
	if c.svc == "" {
		return "", fmt.Errorf("workspace location unknown, cannot reach %s service", service)
	}
	return joinEscaped(c.svc+"/"+service+"/v1.0"+c.workspace.ResourceID(), segments...), nil
}

func joinEscaped(root string, segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return runtime.JoinPaths(root, escaped...)
}

// send issues a request and decodes a JSON response into out when the status
// is one of ok. Any other status becomes an *azcore.ResponseError.
func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, body, out interface{}, ok ...int) (*http.Response, error) {
	req, err := runtime.NewRequest(ctx, method, endpoint)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		q := req.Raw().URL.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.Raw().URL.RawQuery = q.Encode()
	}
	req.Raw().Header.Set("Accept", "application/json")
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	resp, err := c.pl.Do(req)
	if err != nil {
		return nil, err
	}
	if len(ok) == 0 {
		ok = []int{http.StatusOK}
	}
	if !runtime.HasStatusCode(resp, ok...) {
		return resp, runtime.NewResponseError(resp)
	}
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := runtime.UnmarshalAsJSON(resp, out); err != nil {
			return resp, fmt.Errorf("failed to decode %s %s response: %w", method, req.Raw().URL.Path, err)
		}
	}
	return resp, nil
}

// get decodes a resource, reporting a 404 as not found rather than an error.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out interface{}) (bool, error) {
	resp, err := c.send(ctx, http.MethodGet, endpoint, query, nil, out, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return false, err
	}
	return resp.StatusCode != http.StatusNotFound, nil
}

func armQuery() url.Values {
	return url.Values{"api-version": []string{armAPIVersion}}
}

// throttlePolicy delays requests to stay within a client-side rate limit.
type throttlePolicy struct {
	limiter *rate.Limiter
}

func (p *throttlePolicy) Do(req *policy.Request) (*http.Response, error) {
	if err := p.limiter.Wait(req.Raw().Context()); err != nil {
		return nil, err
	}
	return req.Next()
}
