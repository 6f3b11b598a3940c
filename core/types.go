package core

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// ImageStage identifies which pipeline stage produced an image reference.
type ImageStage string

const (
	// StageUpload is the original photograph uploaded by the user
	StageUpload ImageStage = "upload"
	// StageCutout is the subject-only image produced by segmentation
	StageCutout ImageStage = "cutout"
	// StageCrop is a per-subject sub-region cut from the cutout
	StageCrop ImageStage = "crop"
	// StageRemix is a foreground image rewritten by the remix service
	StageRemix ImageStage = "remix"
	// StageBackground is a generated background image
	StageBackground ImageStage = "background"
	// StageStitch is a reassembled group foreground
	StageStitch ImageStage = "stitch"
	// StageComposite is the final composited output
	StageComposite ImageStage = "composite"
)

// ImageRef is an opaque handle to binary image data held by the host.
// Pipeline state never embeds pixel data; stages exchange references and
// the host resolves them to bytes when an external call needs them.
type ImageRef struct {
	// ID is the unique identifier for the underlying image data
	ID string `json:"id"`
	// Stage records which pipeline stage produced the image
	Stage ImageStage `json:"stage"`
	// Width is the natural width in pixels (0 if unknown)
	Width int `json:"width,omitempty"`
	// Height is the natural height in pixels (0 if unknown)
	Height int `json:"height,omitempty"`
}

// IsZero reports whether the reference is empty (no image).
func (r ImageRef) IsZero() bool {
	return r.ID == ""
}

// MarshalLogObject implements zapcore.ObjectMarshaler for structured logging.
func (r ImageRef) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", r.ID)
	enc.AddString("stage", string(r.Stage))
	if r.Width > 0 {
		enc.AddInt("width", r.Width)
	}
	if r.Height > 0 {
		enc.AddInt("height", r.Height)
	}
	return nil
}

// BoundingBox is a normalized rectangle relative to the image it was
// detected on. All coordinates are in [0,1] with Y1 < Y2 and X1 < X2.
// Converting to pixels requires the natural dimensions of the image; the
// same target dimensions must be used at crop and stitch time.
type BoundingBox struct {
	Y1 float64 `json:"y1"`
	X1 float64 `json:"x1"`
	Y2 float64 `json:"y2"`
	X2 float64 `json:"x2"`
}

// Validate checks that all coordinates are in [0,1] and properly ordered.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.Y1, b.X1, b.Y2, b.X2} {
		if v < 0 || v > 1 {
			return fmt.Errorf("core: bounding box coordinate %v outside [0,1]", v)
		}
	}
	if b.Y1 >= b.Y2 {
		return fmt.Errorf("core: bounding box y1 (%v) must be less than y2 (%v)", b.Y1, b.Y2)
	}
	if b.X1 >= b.X2 {
		return fmt.Errorf("core: bounding box x1 (%v) must be less than x2 (%v)", b.X1, b.X2)
	}
	return nil
}

// Width returns the normalized width of the box.
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the normalized height of the box.
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// DetectedSubject is one subject found by the detection service.
// The detection service is authoritative; subjects are consumed once per
// group run and never merged or deduplicated here.
type DetectedSubject struct {
	// ID is the detector-assigned subject identifier
	ID string `json:"id"`
	// Description is a short human-readable label (e.g., "woman in red coat")
	Description string `json:"description"`
	// Box is the subject's normalized bounding box on the cutout image
	Box BoundingBox `json:"box"`
}

// SceneSuggestion is one best-effort prompt suggestion produced after
// segmentation. Suggestions are purely advisory and never charged.
type SceneSuggestion struct {
	Title            string `json:"title"`
	BackgroundPrompt string `json:"background_prompt"`
	ForegroundPrompt string `json:"foreground_prompt"`
}

// RemixState holds the working state of one Photo Remix flow.
// It is reset on every new upload; each stage writes exactly one field.
// FinalImage is the terminal artifact of a run and must be cleared whenever
// an upstream input (prompt or image) changes.
type RemixState struct {
	OriginalImage       ImageRef          `json:"original_image"`
	CutoutImage         ImageRef          `json:"cutout_image"`
	RemixedCutoutImage  ImageRef          `json:"remixed_cutout_image"`
	GeneratedBackground ImageRef          `json:"generated_background"`
	FinalImage          ImageRef          `json:"final_image"`
	SceneSuggestions    []SceneSuggestion `json:"scene_suggestions,omitempty"`
	BackgroundPrompt    string            `json:"background_prompt"`
	ForegroundPrompt    string            `json:"foreground_prompt"`
	IsGroupPhoto        bool              `json:"is_group_photo"`
	DetectedSubjects    []DetectedSubject `json:"detected_subjects,omitempty"`
}

// Reset clears the state for a new upload, keeping nothing from the
// previous flow.
func (s *RemixState) Reset() {
	*s = RemixState{}
}

// ClearFinal discards the terminal artifact. Called whenever an upstream
// input changes so a stale composite is never presented as current.
func (s *RemixState) ClearFinal() {
	s.FinalImage = ImageRef{}
}

// SetCutout stores a new cutout image and invalidates everything derived
// from the previous one, including the memoized subject detection.
func (s *RemixState) SetCutout(ref ImageRef) {
	s.CutoutImage = ref
	s.DetectedSubjects = nil
	s.RemixedCutoutImage = ImageRef{}
	s.ClearFinal()
}

// SetPrompts updates the user prompts and clears the stale final image.
func (s *RemixState) SetPrompts(background, foreground string) {
	s.BackgroundPrompt = background
	s.ForegroundPrompt = foreground
	s.ClearFinal()
}

// HasDetection reports whether a memoized detection result is available
// for the current cutout. Detection is invalidated by SetCutout.
func (s *RemixState) HasDetection() bool {
	return len(s.DetectedSubjects) > 0
}

// RunPhase is the lifecycle phase of a remix flow.
type RunPhase int

const (
	// PhaseIdle means no flow is active
	PhaseIdle RunPhase = iota
	// PhaseSegmenting means the critical segmentation call is in flight
	PhaseSegmenting
	// PhaseSuggestionFetching means the best-effort suggestion call is in flight
	PhaseSuggestionFetching
	// PhaseAwaitingUserInput means the user is editing prompts
	PhaseAwaitingUserInput
	// PhaseDispatched means a costed action awaits confirmation
	PhaseDispatched
	// PhaseRunning means a charged pipeline run is executing
	PhaseRunning
	// PhaseCompleted means the last run finished successfully
	PhaseCompleted
	// PhaseFailed means the last run failed (and was refunded)
	PhaseFailed
)

// String returns the phase name for logging.
func (p RunPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSegmenting:
		return "segmenting"
	case PhaseSuggestionFetching:
		return "suggestion_fetching"
	case PhaseAwaitingUserInput:
		return "awaiting_user_input"
	case PhaseDispatched:
		return "dispatched"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OperationType identifies the kind of generation attempt for result records.
type OperationType string

const (
	// OpSingleRemix is the one-subject happy path
	OpSingleRemix OperationType = "single_remix"
	// OpGroupRemix is the divide-and-conquer group path
	OpGroupRemix OperationType = "group_remix"
	// OpStepRemix is the advanced per-step foreground remix
	OpStepRemix OperationType = "step_remix"
	// OpStepBackground is the advanced per-step background generation
	OpStepBackground OperationType = "step_background"
	// OpStepComposite is the advanced per-step composite
	OpStepComposite OperationType = "step_composite"
)

// CompositionSettings carries the host-selected compositing parameters
// passed through to the composite service unchanged.
type CompositionSettings struct {
	// Blend selects the compositing mode (e.g., "natural", "studio")
	Blend string `json:"blend,omitempty"`
	// LightingMatch asks the service to harmonize lighting between layers
	LightingMatch bool `json:"lighting_match,omitempty"`
	// OutputWidth requests a specific output width (0 = service default)
	OutputWidth int `json:"output_width,omitempty"`
	// OutputHeight requests a specific output height (0 = service default)
	OutputHeight int `json:"output_height,omitempty"`
}

// SettingsSnapshot is the frozen copy of generation settings stored on a
// result record. It is captured at dispatch time so later settings edits
// never alter recorded history.
type SettingsSnapshot struct {
	BackgroundPrompt string              `json:"background_prompt"`
	ForegroundPrompt string              `json:"foreground_prompt"`
	IsGroupPhoto     bool                `json:"is_group_photo"`
	SubjectCount     int                 `json:"subject_count"`
	Composition      CompositionSettings `json:"composition"`
	CapturedAt       time.Time           `json:"captured_at"`
}
