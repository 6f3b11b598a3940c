package core

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Config holds all configuration values for the remix backend.
type Config struct {
	// Provider configuration
	OpenAIAPIKey string
	BaseLLMURL   string // Default API endpoint for all generation operations
	ImageLLMURL  string // Optional override for image operations
	VisionModel  string // Model for detection and suggestion calls
	ImageModel   string // Model for generation/remix/composite calls

	// Credit accounting
	InitialCredits int64   // Endowment for a fresh ledger
	Pricing        Pricing // Credit price table
	PricingPath    string  // Optional pricing.yaml override path

	// Pipeline behavior
	PacingInterval time.Duration // Delay between consecutive per-subject remix calls
	AITimeout      time.Duration // Per external call
	RunTimeout     time.Duration // Whole pipeline run
	MaxRetries     int
	RetryDelay     time.Duration

	// Persistence and files
	HistoryDBPath  string // SQLite history database path ("" disables history)
	MigrationsPath string // golang-migrate source URL (e.g., "file://db/migrations")
	DownloadsDir   string // Directory for temporary image files
	LogFilePath    string

	// Transport
	AllowSelfSignedCerts bool
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. Only the provider API key is required; everything else has a
// zero-config default.
func LoadConfig() (*Config, error) {
	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		openAIKey = os.Getenv("OPENAI_KEY") // Legacy support
	}
	if openAIKey == "" {
		return nil, fmt.Errorf("missing required environment variable: OPENAI_API_KEY. See .env.example for configuration template")
	}

	// Pricing: built-in defaults, optional yaml override
	pricingPath := os.Getenv("PRICING_PATH")
	pricing := DefaultPricing()
	if pricingPath != "" {
		loaded, err := LoadPricing(pricingPath)
		if err != nil {
			return nil, err
		}
		pricing = loaded
	}
	if err := pricing.Validate(); err != nil {
		return nil, err
	}

	initialCredits := ParseInt64Env("INITIAL_CREDITS", 100)
	if initialCredits < 0 {
		return nil, fmt.Errorf("INITIAL_CREDITS must be non-negative, got %d", initialCredits)
	}

	// 1s pacing keeps sequential per-subject calls under provider rate limits
	pacingInterval := ParseMillisEnv("PACING_INTERVAL_MS", 1000)
	if pacingInterval < 0 {
		return nil, fmt.Errorf("PACING_INTERVAL_MS must be non-negative")
	}

	return &Config{
		OpenAIAPIKey: openAIKey,
		BaseLLMURL:   GetEnvOrDefault("BASE_LLM_URL", "https://api.openai.com/v1"),
		ImageLLMURL:  os.Getenv("IMAGE_LLM_URL"),
		VisionModel:  GetEnvOrDefault("VISION_MODEL", "gpt-4o"),
		ImageModel:   GetEnvOrDefault("IMAGE_GEN_MODEL", "gpt-image-1"),

		InitialCredits: initialCredits,
		Pricing:        pricing,
		PricingPath:    pricingPath,

		PacingInterval: pacingInterval,
		// 60s AI timeout accommodates slower image models while preventing hangs
		AITimeout: ParseDurationEnv("AI_TIMEOUT", 60),
		// 300s run timeout allows a full group pipeline to complete
		RunTimeout: ParseDurationEnv("RUN_TIMEOUT", 300),
		MaxRetries: ParseIntEnv("MAX_RETRIES", 3),
		RetryDelay: ParseDurationEnv("RETRY_DELAY", 1),

		HistoryDBPath:  GetEnvOrDefault("HISTORY_DB_PATH", "./data/remix_history.sqlite"),
		MigrationsPath: GetEnvOrDefault("MIGRATIONS_PATH", "file://db/migrations"),
		DownloadsDir:   GetEnvOrDefault("DOWNLOADS_DIR", "./downloads"),
		LogFilePath:    GetEnvOrDefault("LOG_FILE", "remix.log"),

		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),
	}, nil
}

// GetHTTPClient returns an HTTP client configured with TLS settings based on
// AllowSelfSignedCerts. All requests to external APIs should use it so the
// TLS configuration is respected everywhere.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}

// GetDefaultHTTPClient returns an HTTP client with default timeout (30s)
// configured with TLS settings.
func GetDefaultHTTPClient(cfg *Config) *http.Client {
	return GetHTTPClient(cfg, 30*time.Second)
}

// HasImageEndpointOverride returns true if a dedicated image endpoint is set.
func (c *Config) HasImageEndpointOverride() bool {
	return c.ImageLLMURL != ""
}
