// Package results records the outcome of every charged generation run as
// an immutable GeneratedResult. Both successes and failures are recorded;
// a failed run yields a result with Success=false, an empty image, and the
// user-facing error message, so the history reflects what was attempted
// and what it cost, not just what worked.
package results

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"remix_backend/core"
)

// GeneratedResult is one finished (or failed) generation run. Fields are
// fixed at append time; records are never updated in place.
type GeneratedResult struct {
	// ID is the unique result identifier
	ID string `json:"id"`
	// RunID correlates the result with the ledger transactions of the run
	RunID string `json:"run_id"`
	// Operation identifies which kind of run produced this result
	Operation core.OperationType `json:"operation"`
	// Image is the final composite, or zero for failed runs
	Image core.ImageRef `json:"image"`
	// Prompt is the effective prompt text the run was executed with
	Prompt string `json:"prompt"`
	// Settings snapshots the composition settings at execution time
	Settings core.SettingsSnapshot `json:"settings"`
	// Cost is the credit amount charged for the run
	Cost int64 `json:"cost"`
	// SubjectCount is the number of detected subjects (group runs only)
	SubjectCount int `json:"subject_count,omitempty"`
	// StartedAt is when the run began executing
	StartedAt time.Time `json:"started_at"`
	// DurationMs is the wall-clock run duration in milliseconds
	DurationMs int64 `json:"duration_ms"`
	// Success reports whether the run produced a final image
	Success bool `json:"success"`
	// ErrorMessage is the user-facing failure explanation for failed runs
	ErrorMessage string `json:"error_message,omitempty"`
	// Refunded reports whether the run's charge was compensated
	Refunded bool `json:"refunded"`
}

// Sink receives every appended result, in append order. Used to feed the
// asynchronous history writer; a nil sink is allowed.
type Sink func(GeneratedResult)

// Recorder is the append-only collection of generation results. Safe for
// concurrent use.
type Recorder struct {
	mu      sync.RWMutex
	results []GeneratedResult
	sink    Sink
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// NewRecorderWithSink creates a Recorder that forwards every appended
// result to the given sink.
func NewRecorderWithSink(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// NewSuccessResult builds (but does not append) a successful run record.
// The result ID is assigned here; the caller supplies everything else.
func NewSuccessResult(runID string, op core.OperationType, image core.ImageRef, prompt string, settings core.SettingsSnapshot, cost int64, subjects int, startedAt time.Time) GeneratedResult {
	return GeneratedResult{
		ID:           uuid.NewString(),
		RunID:        runID,
		Operation:    op,
		Image:        image,
		Prompt:       prompt,
		Settings:     settings,
		Cost:         cost,
		SubjectCount: subjects,
		StartedAt:    startedAt,
		DurationMs:   time.Since(startedAt).Milliseconds(),
		Success:      true,
	}
}

// NewFailureResult builds (but does not append) a failed run record with
// its user-facing error message. Refunded should be true when the run's
// deduction was compensated.
func NewFailureResult(runID string, op core.OperationType, prompt string, settings core.SettingsSnapshot, cost int64, subjects int, startedAt time.Time, errorMessage string, refunded bool) GeneratedResult {
	return GeneratedResult{
		ID:           uuid.NewString(),
		RunID:        runID,
		Operation:    op,
		Prompt:       prompt,
		Settings:     settings,
		Cost:         cost,
		SubjectCount: subjects,
		StartedAt:    startedAt,
		DurationMs:   time.Since(startedAt).Milliseconds(),
		Success:      false,
		ErrorMessage: errorMessage,
		Refunded:     refunded,
	}
}

// RecordSuccess builds and appends a successful run record.
func (r *Recorder) RecordSuccess(runID string, op core.OperationType, image core.ImageRef, prompt string, settings core.SettingsSnapshot, cost int64, subjects int, startedAt time.Time) GeneratedResult {
	res := NewSuccessResult(runID, op, image, prompt, settings, cost, subjects, startedAt)
	r.Append(res)
	return res
}

// RecordFailure builds and appends a failed run record.
func (r *Recorder) RecordFailure(runID string, op core.OperationType, prompt string, settings core.SettingsSnapshot, cost int64, subjects int, startedAt time.Time, errorMessage string, refunded bool) GeneratedResult {
	res := NewFailureResult(runID, op, prompt, settings, cost, subjects, startedAt, errorMessage, refunded)
	r.Append(res)
	return res
}

// Append adds a pre-built record to the collection.
func (r *Recorder) Append(res GeneratedResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink(res)
	}
}

// Snapshot returns a copy of all recorded results in append order.
func (r *Recorder) Snapshot() []GeneratedResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]GeneratedResult, len(r.results))
	copy(out, r.results)
	return out
}

// Successes returns only the results that produced a final image.
func (r *Recorder) Successes() []GeneratedResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []GeneratedResult
	for _, res := range r.results {
		if res.Success {
			out = append(out, res)
		}
	}
	return out
}

// ForRun returns the results recorded for the given run ID.
func (r *Recorder) ForRun(runID string) []GeneratedResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []GeneratedResult
	for _, res := range r.results {
		if res.RunID == runID {
			out = append(out, res)
		}
	}
	return out
}

// Len returns the number of recorded results.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.results)
}
