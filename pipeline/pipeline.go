// Package pipeline implements the generation pipelines that turn a
// segmented cutout into a final composite: the single-subject pipeline
// (parallel foreground/background then composite) and the group pipeline
// (detect, crop, paced per-subject remix, stitch, composite).
//
// Pipelines orchestrate calls against the genai.Port; they never touch
// credits or history. Charging and compensation are the dispatcher's
// concern.
package pipeline

import (
	"fmt"

	"remix_backend/genai"
	"remix_backend/logging"
)

// Stage names used in failure reports.
const (
	StageSegment    = "segmentation"
	StageDetect     = "subject detection"
	StageCrop       = "subject cropping"
	StageRemix      = "foreground remix"
	StageBackground = "background generation"
	StageStitch     = "foreground stitching"
	StageComposite  = "compositing"
)

// StageError wraps a pipeline failure with the stage it occurred in, so
// the dispatcher can report which step of the run broke.
type StageError struct {
	// Stage is the human-readable stage name
	Stage string
	// Err is the underlying failure
	Err error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func failStage(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// RunStats reports what a pipeline run actually did, for logging and
// result records.
type RunStats struct {
	// ExternalCalls is the number of AI service calls made
	ExternalCalls int
	// SubjectCount is the number of subjects processed (group runs)
	SubjectCount int
}

// Runner executes pipelines against a Port. Intermediate images produced
// on failure stay in the store but are never surfaced; a failed run
// yields no partial composite.
//
// Thread Safety: Runner is safe for concurrent use, though the
// dispatcher serializes runs so only one is in flight at a time.
type Runner struct {
	port   genai.Port
	store  *genai.ImageStore
	pacer  Pacer
	logger *logging.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(port genai.Port, store *genai.ImageStore, pacer Pacer, logger *logging.Logger) (*Runner, error) {
	if port == nil {
		return nil, fmt.Errorf("pipeline: port cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("pipeline: store cannot be nil")
	}
	if pacer == nil {
		return nil, fmt.Errorf("pipeline: pacer cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("pipeline: logger cannot be nil")
	}
	return &Runner{
		port:   port,
		store:  store,
		pacer:  pacer,
		logger: logger.Named("pipeline"),
	}, nil
}
