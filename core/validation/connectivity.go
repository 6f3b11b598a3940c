package validation

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"remix_backend/core"
)

// ConnectivityResult represents the result of a connectivity check.
type ConnectivityResult struct {
	Reachable  bool
	StatusCode int
	Message    string
	Latency    time.Duration
	Error      error
}

// ConnectivityChecker verifies the generation provider endpoint is
// reachable. This is a molecule that composes URL validation with an
// HTTP connectivity test.
type ConnectivityChecker struct {
	timeout              time.Duration
	allowSelfSignedCerts bool
}

// NewConnectivityChecker creates a new ConnectivityChecker with default settings.
// Default timeout is 10 seconds.
func NewConnectivityChecker() *ConnectivityChecker {
	return &ConnectivityChecker{
		timeout: 10 * time.Second,
	}
}

// WithTimeout sets the timeout for connectivity checks.
func (c *ConnectivityChecker) WithTimeout(timeout time.Duration) *ConnectivityChecker {
	c.timeout = timeout
	return c
}

// WithAllowSelfSignedCerts configures whether to allow self-signed certificates.
func (c *ConnectivityChecker) WithAllowSelfSignedCerts(allow bool) *ConnectivityChecker {
	c.allowSelfSignedCerts = allow
	return c
}

// CheckEndpointConnectivity tests if an endpoint is reachable using an
// HTTP HEAD request. The URL format is validated first. Any HTTP status
// counts as reachable; 4xx means the server is up but the request needs
// credentials, which is expected for a bare HEAD.
func (c *ConnectivityChecker) CheckEndpointConnectivity(endpoint string) ConnectivityResult {
	if err := ValidateEndpointURL(endpoint); err != nil {
		return ConnectivityResult{
			Reachable: false,
			Message:   "Invalid URL format",
			Error:     err,
		}
	}

	client := c.createHTTPClient()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return ConnectivityResult{
			Reachable: false,
			Message:   "Failed to create request",
			Error:     err,
		}
	}

	startTime := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(startTime)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ConnectivityResult{
				Reachable: false,
				Message:   "Connection timed out",
				Latency:   latency,
				Error:     fmt.Errorf("endpoint %s unreachable: connection timed out after %v", endpoint, c.timeout),
			}
		}
		return ConnectivityResult{
			Reachable: false,
			Message:   "Connection failed",
			Latency:   latency,
			Error:     fmt.Errorf("endpoint %s unreachable: %w", endpoint, err),
		}
	}
	defer resp.Body.Close()

	return ConnectivityResult{
		Reachable:  true,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("Endpoint reachable (status: %d)", resp.StatusCode),
		Latency:    latency,
	}
}

// CheckProviderConnectivity checks connectivity to the configured
// provider endpoint using the BASE_LLM_URL environment variable.
func (c *ConnectivityChecker) CheckProviderConnectivity() ConnectivityResult {
	endpoint := core.GetEnvOrDefault("BASE_LLM_URL", "https://api.openai.com/v1")
	return c.CheckEndpointConnectivity(endpoint)
}

// IsReachable is a convenience function to check if an endpoint responds.
func (c *ConnectivityChecker) IsReachable(endpoint string) bool {
	return c.CheckEndpointConnectivity(endpoint).Reachable
}

// createHTTPClient creates an HTTP client with the configured TLS settings.
func (c *ConnectivityChecker) createHTTPClient() *http.Client {
	client := &http.Client{
		Timeout: c.timeout,
	}

	if c.allowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}
