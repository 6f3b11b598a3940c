package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateEndpointURL validates that a URL has a valid format with http or
// https scheme. This is a pure function with no side effects.
//
// Returns nil if the URL is valid, or an error describing the validation failure.
func ValidateEndpointURL(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)

	if endpoint == "" {
		return fmt.Errorf("endpoint URL cannot be empty")
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(parsedURL.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme, got: %q", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must include a host")
	}

	return nil
}
