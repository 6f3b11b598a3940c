package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"remix_backend/core"
)

// ValidationResult represents the result of a configuration validation check.
type ValidationResult struct {
	Valid   bool
	Message string
	Error   error
}

// ConfigValidator composes validation atoms to provide comprehensive
// configuration checking. This is a molecule that orchestrates URL
// validation, file existence, and credential checks for the generation
// provider and local storage.
type ConfigValidator struct {
	envPath string // Path to .env file (default: ".env")
}

// NewConfigValidator creates a new ConfigValidator with default settings.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		envPath: ".env",
	}
}

// WithEnvPath sets a custom path for the .env file.
func (v *ConfigValidator) WithEnvPath(path string) *ConfigValidator {
	v.envPath = path
	return v
}

// CheckEnvFile validates that the .env file exists.
func (v *ConfigValidator) CheckEnvFile() ValidationResult {
	if err := CheckFileExists(v.envPath); err != nil {
		return ValidationResult{
			Valid:   false,
			Message: "Configuration file not found. Copy .env.example to .env and configure your provider credentials.",
			Error:   err,
		}
	}
	return ValidationResult{
		Valid:   true,
		Message: "Environment file found",
	}
}

// CheckAPIKey validates that a provider API key is configured.
func (v *ConfigValidator) CheckAPIKey() ValidationResult {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_KEY") // Legacy support
	}

	if strings.TrimSpace(apiKey) == "" {
		return ValidationResult{
			Valid:   false,
			Message: "OPENAI_API_KEY required. Set your provider API key.",
			Error:   fmt.Errorf("missing required configuration: OPENAI_API_KEY"),
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: "Provider API key configured",
	}
}

// CheckEndpointURL validates the BASE_LLM_URL environment variable and,
// when present, the IMAGE_LLM_URL override.
func (v *ConfigValidator) CheckEndpointURL() ValidationResult {
	endpoint := core.GetEnvOrDefault("BASE_LLM_URL", "https://api.openai.com/v1")

	if err := ValidateEndpointURL(endpoint); err != nil {
		return ValidationResult{
			Valid:   false,
			Message: "Invalid provider endpoint: " + endpoint + ". Example: https://api.openai.com/v1",
			Error:   err,
		}
	}

	if override := os.Getenv("IMAGE_LLM_URL"); override != "" {
		if err := ValidateEndpointURL(override); err != nil {
			return ValidationResult{
				Valid:   false,
				Message: "Invalid image endpoint override: " + override,
				Error:   err,
			}
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: "Provider endpoint valid",
	}
}

// CheckPricing validates the credit price table: built-in defaults, or the
// PRICING_PATH override when one is configured.
func (v *ConfigValidator) CheckPricing() ValidationResult {
	pricingPath := os.Getenv("PRICING_PATH")
	if pricingPath == "" {
		if err := core.DefaultPricing().Validate(); err != nil {
			return ValidationResult{
				Valid:   false,
				Message: "Built-in pricing invalid",
				Error:   err,
			}
		}
		return ValidationResult{
			Valid:   true,
			Message: "Using built-in pricing",
		}
	}

	pricing, err := core.LoadPricing(pricingPath)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: "Failed to load pricing from " + pricingPath,
			Error:   err,
		}
	}
	if err := pricing.Validate(); err != nil {
		return ValidationResult{
			Valid:   false,
			Message: "Pricing file " + pricingPath + " has invalid values",
			Error:   err,
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: "Pricing loaded from " + pricingPath,
	}
}

// CheckDataDirectories validates that the history database directory and
// downloads directory can be created and written to.
func (v *ConfigValidator) CheckDataDirectories() ValidationResult {
	dbPath := core.GetEnvOrDefault("HISTORY_DB_PATH", "./data/remix_history.sqlite")
	downloadsDir := core.GetEnvOrDefault("DOWNLOADS_DIR", "./downloads")

	if dbPath != "" {
		if err := CheckDirWritable(filepath.Dir(dbPath)); err != nil {
			return ValidationResult{
				Valid:   false,
				Message: "History database directory not writable",
				Error:   err,
			}
		}
	}

	if err := CheckDirWritable(downloadsDir); err != nil {
		return ValidationResult{
			Valid:   false,
			Message: "Downloads directory not writable",
			Error:   err,
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: "Data directories writable",
	}
}

// ValidateAll runs all configuration checks and returns all results.
func (v *ConfigValidator) ValidateAll() []ValidationResult {
	return []ValidationResult{
		v.CheckEnvFile(),
		v.CheckAPIKey(),
		v.CheckEndpointURL(),
		v.CheckPricing(),
		v.CheckDataDirectories(),
	}
}

// ValidateRequired runs only the checks a run cannot proceed without.
// The .env file itself is optional when variables come from the process
// environment. Returns the first validation failure, or nil if all
// required checks pass.
func (v *ConfigValidator) ValidateRequired() error {
	if result := v.CheckAPIKey(); !result.Valid {
		return result.Error
	}
	if result := v.CheckEndpointURL(); !result.Valid {
		return result.Error
	}
	if result := v.CheckPricing(); !result.Valid {
		return result.Error
	}
	return nil
}

// IsValid returns true if all required configuration is valid.
func (v *ConfigValidator) IsValid() bool {
	return v.ValidateRequired() == nil
}

// CountValid returns the number of valid configuration items.
func (v *ConfigValidator) CountValid() int {
	count := 0
	for _, r := range v.ValidateAll() {
		if r.Valid {
			count++
		}
	}
	return count
}

// CountInvalid returns the number of invalid configuration items.
func (v *ConfigValidator) CountInvalid() int {
	results := v.ValidateAll()
	return len(results) - v.CountValid()
}
