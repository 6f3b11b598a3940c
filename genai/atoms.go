// Package genai provides the abstract interface to external AI image
// services, plus the OpenAI-backed implementation of it.
//
// atoms.go contains pure utility functions with no dependencies.
package genai

import (
	"strings"
)

// IsOpenAIEndpoint checks if the given endpoint URL is a standard OpenAI
// API endpoint. Case-insensitive substring matching.
//
// Example:
//
//	IsOpenAIEndpoint("https://api.openai.com/v1")  // true
//	IsOpenAIEndpoint("http://localhost:1234")      // false
func IsOpenAIEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	return strings.Contains(strings.ToLower(endpoint), "api.openai.com")
}

// IsLocalEndpoint checks if the given endpoint URL points at a
// local/self-hosted server. Local endpoints do not support the image
// edits API this package depends on, so the factory rejects them.
//
// Example:
//
//	IsLocalEndpoint("http://localhost:1234")      // true
//	IsLocalEndpoint("http://192.168.1.100:5000")  // true
//	IsLocalEndpoint("https://api.openai.com")     // false
func IsLocalEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	lower := strings.ToLower(endpoint)
	return strings.Contains(lower, "localhost") ||
		strings.Contains(lower, "127.0.0.1") ||
		strings.Contains(lower, "0.0.0.0") ||
		strings.Contains(lower, "192.168.") ||
		strings.Contains(lower, "10.")
}

// StripJSONFence removes a surrounding markdown code fence from model
// output. Vision models frequently wrap the requested JSON in
// ```json ... ``` despite instructions not to.
func StripJSONFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
