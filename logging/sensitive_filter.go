package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder is the string used to replace sensitive data
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns contains compiled regex patterns for detecting sensitive
// data. These patterns are compiled once at package initialization.
var sensitivePatterns = []*regexp.Regexp{
	// OpenAI API keys: sk-... (legacy) or sk-proj-... (project-scoped)
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9_-]{20,})`),
	regexp.MustCompile(`(?i)(AIza[a-zA-Z0-9_-]{35})`),        // Google API keys
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`), // Bearer tokens

	// Azure patterns
	regexp.MustCompile(`(?i)(DefaultEndpointsProtocol=[^;]+;[^"'\s]+)`),

	// Generic secret patterns
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(api_key\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(apikey\s*[:=]\s*[^\s,;]{8,})`),
}

// sensitiveFieldNames are field name fragments that indicate sensitive data.
var sensitiveFieldNames = []string{
	"OPENAI_API_KEY",
	"OPENAI_KEY",
	"AZURE_OPENAI_KEY",
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"API_KEY",
	"APIKEY",
}

// RedactSensitiveData scans a string value and redacts any detected
// sensitive data. This is a pure function.
//
// Patterns detected:
//   - OpenAI API keys (sk-... or sk-proj-...)
//   - Google API keys (AIza...)
//   - Bearer tokens
//   - Azure connection strings
//   - Generic password/secret/token assignments
//
// Example:
//
//	input := "API key is sk-abc123def456..."
//	output := RedactSensitiveData(input)
//	// output: "API key is [REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}

	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// IsSensitiveField reports whether a field name indicates sensitive data.
// Matching is case-insensitive substring matching against known fragments.
func IsSensitiveField(fieldName string) bool {
	upper := strings.ToUpper(fieldName)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(upper, name) {
			return true
		}
	}
	return false
}

// RedactField redacts a field value if the field name indicates sensitive
// data. This is useful for structured logging where field names are known.
//
// Example:
//
//	value := RedactField("OPENAI_API_KEY", "sk-secret123")
//	// value: "[REDACTED]"
//
//	value := RedactField("prompt", "sunset over mountains")
//	// value: "sunset over mountains" (unchanged)
func RedactField(fieldName, value string) string {
	if IsSensitiveField(fieldName) {
		return RedactedPlaceholder
	}
	return RedactSensitiveData(value)
}
