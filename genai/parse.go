// Package genai provides the abstract interface to external AI image
// services, plus the OpenAI-backed implementation of it.
//
// parse.go turns the JSON payloads produced by the vision model into
// typed detection and suggestion results. Parsing is kept separate from
// the API calls so malformed-output handling can be tested without a
// live endpoint.
package genai

import (
	"encoding/json"
	"fmt"

	"remix_backend/core"
)

// detectionPayload is the wire shape requested from the vision model for
// subject detection.
type detectionPayload struct {
	Subjects []struct {
		Description string `json:"description"`
		Box         struct {
			Y1 float64 `json:"y1"`
			X1 float64 `json:"x1"`
			Y2 float64 `json:"y2"`
			X2 float64 `json:"x2"`
		} `json:"box"`
	} `json:"subjects"`
}

// suggestionPayload is the wire shape requested for scene suggestions.
type suggestionPayload struct {
	Suggestions []struct {
		Title            string `json:"title"`
		BackgroundPrompt string `json:"background_prompt"`
		ForegroundPrompt string `json:"foreground_prompt"`
	} `json:"suggestions"`
}

// ParseDetection parses the vision model's subject-detection JSON into
// DetectedSubjects, assigning stable per-run IDs in detection order.
// Subjects with invalid boxes cause an error; a valid-but-empty subject
// list is returned as an empty slice for the caller to interpret.
func ParseDetection(raw string) ([]core.DetectedSubject, error) {
	cleaned := StripJSONFence(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("genai: detection response is empty")
	}

	var payload detectionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("genai: failed to parse detection response: %w", err)
	}

	subjects := make([]core.DetectedSubject, 0, len(payload.Subjects))
	for i, s := range payload.Subjects {
		box := core.BoundingBox{Y1: s.Box.Y1, X1: s.Box.X1, Y2: s.Box.Y2, X2: s.Box.X2}
		if err := box.Validate(); err != nil {
			return nil, fmt.Errorf("genai: detection returned invalid box for subject %d: %w", i+1, err)
		}
		subjects = append(subjects, core.DetectedSubject{
			ID:          fmt.Sprintf("subject-%d", i+1),
			Description: s.Description,
			Box:         box,
		})
	}
	return subjects, nil
}

// ParseSuggestions parses the vision model's scene-suggestion JSON.
// Entries missing a background prompt are dropped rather than failing the
// whole call; suggestions are a free, best-effort feature.
func ParseSuggestions(raw string) ([]core.SceneSuggestion, error) {
	cleaned := StripJSONFence(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("genai: suggestion response is empty")
	}

	var payload suggestionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("genai: failed to parse suggestion response: %w", err)
	}

	suggestions := make([]core.SceneSuggestion, 0, len(payload.Suggestions))
	for _, s := range payload.Suggestions {
		if s.BackgroundPrompt == "" {
			continue
		}
		suggestions = append(suggestions, core.SceneSuggestion{
			Title:            s.Title,
			BackgroundPrompt: s.BackgroundPrompt,
			ForegroundPrompt: s.ForegroundPrompt,
		})
	}
	if len(suggestions) == 0 {
		return nil, fmt.Errorf("genai: suggestion response contained no usable suggestions")
	}
	return suggestions, nil
}
