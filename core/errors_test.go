package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNormalizeFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureCategory
	}{
		{"nil error", nil, FailureGeneric},
		{"http 429", errors.New("error, status code: 429, message: slow down"), FailureQuota},
		{"rate limit text", errors.New("rate limit exceeded"), FailureQuota},
		{"quota text", errors.New("you exceeded your current quota"), FailureQuota},
		{"http 500", errors.New("error, status code: 500, message: boom"), FailureTransient},
		{"http 503", errors.New("error, status code: 503"), FailureTransient},
		{"timeout", errors.New("context deadline exceeded (Client.Timeout)"), FailureTransient},
		{"connection refused", errors.New("dial tcp: connection refused"), FailureTransient},
		{"content policy", errors.New("your request was rejected by the safety system"), FailureGeneric},
		{"plain failure", errors.New("something went wrong"), FailureGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFailure(tt.err); got != tt.want {
				t.Errorf("NormalizeFailure(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestFailureCategoryExplanations(t *testing.T) {
	for _, category := range []FailureCategory{FailureTransient, FailureQuota, FailureGeneric} {
		msg := category.Explanation()
		if msg == "" {
			t.Errorf("Explanation() for %s is empty", category)
		}
		if !strings.Contains(msg, "refunded") {
			t.Errorf("Explanation() for %s does not mention the refund: %q", category, msg)
		}
	}

	if FailureTransient.Explanation() == FailureQuota.Explanation() {
		t.Error("transient and quota explanations should differ")
	}
}

func TestPipelineExecutionErrorWrapping(t *testing.T) {
	inner := errors.New("error, status code: 500")
	pipeErr := &PipelineExecutionError{
		RunID:    "run-1",
		Category: NormalizeFailure(inner),
		Stage:    "background generation",
		Err:      inner,
	}

	if !errors.Is(pipeErr, inner) {
		t.Error("errors.Is() did not unwrap to the inner error")
	}
	if pipeErr.Category != FailureTransient {
		t.Errorf("Category = %s, want transient", pipeErr.Category)
	}
	if pipeErr.UserMessage() != FailureTransient.Explanation() {
		t.Error("UserMessage() does not match the category explanation")
	}

	var pe *PipelineExecutionError
	wrapped := fmt.Errorf("run failed: %w", pipeErr)
	if !errors.As(wrapped, &pe) || pe.RunID != "run-1" {
		t.Error("errors.As() failed through a wrapping layer")
	}
}

func TestErrorClassifiers(t *testing.T) {
	ve := NewValidationError("cutout_image", "no cutout available")
	if _, ok := IsValidationError(fmt.Errorf("wrapped: %w", ve)); !ok {
		t.Error("IsValidationError() did not detect a wrapped ValidationError")
	}
	if _, ok := IsValidationError(errors.New("other")); ok {
		t.Error("IsValidationError() matched an unrelated error")
	}

	ie := &InsufficientCreditsError{Required: 10, Available: 5}
	got, ok := IsInsufficientCredits(ie)
	if !ok || got.Required != 10 || got.Available != 5 {
		t.Errorf("IsInsufficientCredits() = (%v, %v)", got, ok)
	}
	if !strings.Contains(ie.Error(), "need 10, have 5") {
		t.Errorf("InsufficientCreditsError message = %q", ie.Error())
	}
}
