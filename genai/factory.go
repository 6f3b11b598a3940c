// Package genai provides the abstract interface to external AI image
// services, plus the OpenAI-backed implementation of it.
//
// factory.go wires configuration into a ready Port.
package genai

import (
	"fmt"

	"github.com/sashabaranov/go-openai"

	"remix_backend/core"
	"remix_backend/logging"
)

// NewOpenAIProvider creates the OpenAI-backed Port from configuration.
//
// Returns an error if:
//   - The API key is empty
//   - The image endpoint is local (localhost, LAN addresses), which the
//     edits API does not support
//
// Example:
//
//	store, _ := genai.NewPersistentImageStore(cfg.DownloadsDir)
//	port, err := genai.NewOpenAIProvider(cfg, store, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewOpenAIProvider(cfg *core.Config, store *ImageStore, logger *logging.Logger) (*OpenAIProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("genai: config cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("genai: image store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("genai: logger cannot be nil")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("genai: OpenAI API key is required")
	}

	endpoint := cfg.BaseLLMURL
	if cfg.HasImageEndpointOverride() {
		endpoint = cfg.ImageLLMURL
	}
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if IsLocalEndpoint(endpoint) {
		return nil, fmt.Errorf("genai: local endpoint (%s) does not support image editing; "+
			"configure IMAGE_LLM_URL to use a hosted endpoint", endpoint)
	}

	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	clientConfig.BaseURL = endpoint
	clientConfig.HTTPClient = core.GetHTTPClient(cfg, cfg.AITimeout)

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientConfig),
		store:       store,
		downloader:  NewDownloader(core.GetDefaultHTTPClient(cfg)),
		logger:      logger.Named("genai"),
		visionModel: cfg.VisionModel,
		imageModel:  cfg.ImageModel,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}, nil
}
