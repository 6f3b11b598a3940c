package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSubjectsDetected is returned when the detection service reports an
// empty subject list for a group photo. It aborts group costing before any
// charge occurs.
var ErrNoSubjectsDetected = errors.New("core: no subjects detected in photo")

// ErrRunInProgress is returned when a costed action is requested while a
// charged pipeline run is already executing.
var ErrRunInProgress = errors.New("core: a generation run is already in progress")

// ValidationError indicates a missing or invalid input detected before any
// charge occurred. Validation failures are never debited.
type ValidationError struct {
	// Field names the missing or invalid input (e.g., "cutout_image")
	Field string
	// Message is a human-readable explanation
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a named input.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientCreditsError indicates the pre-flight balance check failed.
// No debit is recorded when this error is returned.
type InsufficientCreditsError struct {
	// Required is the cost of the requested action
	Required int64
	// Available is the balance at check time
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Available)
}

// FailureCategory classifies an external-service failure into one of three
// user-facing buckets. All categories are treated identically for
// compensation: a charged stage that fails is always refunded.
type FailureCategory string

const (
	// FailureTransient covers temporary internal errors on the service side
	FailureTransient FailureCategory = "transient"
	// FailureQuota covers rate-limit and quota exhaustion responses
	FailureQuota FailureCategory = "quota"
	// FailureGeneric covers everything else
	FailureGeneric FailureCategory = "generic"
)

// Explanation returns the tailored human-readable explanation shown to the
// user for this failure category.
func (c FailureCategory) Explanation() string {
	switch c {
	case FailureTransient:
		return "The image service hit a temporary internal error. Your credits have been refunded; please try again in a moment."
	case FailureQuota:
		return "The image service is rate-limited right now. Your credits have been refunded; please wait a little before retrying."
	default:
		return "Image generation failed. Your credits have been refunded."
	}
}

// PipelineExecutionError indicates a failure after a debit was recorded.
// The dispatcher pairs every PipelineExecutionError with exactly one
// compensating credit and one failure result record.
type PipelineExecutionError struct {
	// RunID correlates the failure with its deduction and refund transactions
	RunID string
	// Category is the normalized user-facing failure bucket
	Category FailureCategory
	// Stage names the pipeline step that failed (e.g., "generate_background")
	Stage string
	// Err is the underlying error from the external boundary
	Err error
}

func (e *PipelineExecutionError) Error() string {
	return fmt.Sprintf("pipeline run %s failed at %s (%s): %v", e.RunID, e.Stage, e.Category, e.Err)
}

func (e *PipelineExecutionError) Unwrap() error {
	return e.Err
}

// UserMessage returns the explanation suitable for display.
func (e *PipelineExecutionError) UserMessage() string {
	return e.Category.Explanation()
}

// NormalizeFailure maps a raw external-boundary error onto a failure
// category. The mapping is intentionally string-based: the concrete
// transport is a collaborator concern and the only stable signal crossing
// the boundary is the message text plus well-known status fragments.
func NormalizeFailure(err error) FailureCategory {
	if err == nil {
		return FailureGeneric
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "too many requests"):
		return FailureQuota
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "internal error"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"):
		return FailureTransient
	default:
		return FailureGeneric
	}
}

// IsValidationError checks if an error is a ValidationError and returns it.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsInsufficientCredits checks if an error is an InsufficientCreditsError.
func IsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var ie *InsufficientCreditsError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// IsPipelineExecutionError checks if an error is a PipelineExecutionError.
func IsPipelineExecutionError(err error) (*PipelineExecutionError, bool) {
	var pe *PipelineExecutionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
