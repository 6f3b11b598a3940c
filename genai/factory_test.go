package genai

import (
	"strings"
	"testing"

	"remix_backend/core"
	"remix_backend/logging"
)

func validConfig() *core.Config {
	return &core.Config{
		OpenAIAPIKey: "sk-test",
		BaseLLMURL:   "https://api.openai.com/v1",
		VisionModel:  "gpt-4o",
		ImageModel:   "gpt-image-1",
		MaxRetries:   3,
	}
}

func TestNewOpenAIProviderValidation(t *testing.T) {
	store := NewImageStore()
	logger := logging.NewNopLogger()

	tests := []struct {
		name    string
		cfg     *core.Config
		store   *ImageStore
		logger  *logging.Logger
		wantErr string
	}{
		{"nil config", nil, store, logger, "config cannot be nil"},
		{"nil store", validConfig(), nil, logger, "image store cannot be nil"},
		{"nil logger", validConfig(), store, nil, "logger cannot be nil"},
		{
			"missing API key",
			&core.Config{BaseLLMURL: "https://api.openai.com/v1"},
			store, logger, "API key is required",
		},
		{
			"local image endpoint",
			&core.Config{OpenAIAPIKey: "sk-test", ImageLLMURL: "http://localhost:1234"},
			store, logger, "does not support image editing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOpenAIProvider(tt.cfg, tt.store, tt.logger)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewOpenAIProviderUsesImageEndpointOverride(t *testing.T) {
	cfg := validConfig()
	cfg.ImageLLMURL = "https://images.example.com/v1"

	provider, err := NewOpenAIProvider(cfg, NewImageStore(), logging.NewNopLogger())
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error: %v", err)
	}
	if provider.imageModel != "gpt-image-1" {
		t.Errorf("imageModel = %q, want gpt-image-1", provider.imageModel)
	}
	if provider.visionModel != "gpt-4o" {
		t.Errorf("visionModel = %q, want gpt-4o", provider.visionModel)
	}
}
