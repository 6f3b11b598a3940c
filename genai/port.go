// Package genai provides the abstract interface to external AI image
// services, plus the OpenAI-backed implementation of it.
//
// port.go defines the Port interface and its request/result types.
// Everything above this package (pipelines, dispatcher) talks to the
// Port; nothing above it knows which vendor sits behind.
package genai

import (
	"context"

	"remix_backend/core"
)

// Port is the interface for external AI image operations.
//
// All methods honor context cancellation and return errors suitable for
// classification by core.NormalizeFailure. Implementations must be safe
// for concurrent use: the pipelines run foreground and background work
// in parallel against the same Port.
type Port interface {
	// Segment isolates the subject(s) of an uploaded photo, returning a
	// cutout with the original background removed.
	Segment(ctx context.Context, req SegmentRequest) (SegmentResult, error)

	// SuggestScenes proposes scene ideas for a cutout. This is the only
	// free operation; callers treat its failure as a degraded feature,
	// not a run failure.
	SuggestScenes(ctx context.Context, req SuggestRequest) ([]core.SceneSuggestion, error)

	// DetectSubjects locates the individual people in a group cutout and
	// returns one bounding box per subject, in detection order.
	DetectSubjects(ctx context.Context, req DetectRequest) ([]core.DetectedSubject, error)

	// RemixForeground restyles a cutout according to a prompt while
	// preserving the subject's identity.
	RemixForeground(ctx context.Context, req RemixRequest) (core.ImageRef, error)

	// GenerateBackground creates a background scene from a prompt.
	GenerateBackground(ctx context.Context, req BackgroundRequest) (core.ImageRef, error)

	// CompositeImages blends a foreground cutout into a background scene,
	// producing the final image.
	CompositeImages(ctx context.Context, req CompositeRequest) (core.ImageRef, error)
}

// SegmentRequest asks for background removal on an uploaded photo.
type SegmentRequest struct {
	// Image is the uploaded source photo
	Image core.ImageRef
}

// SegmentResult is the outcome of a segmentation call.
type SegmentResult struct {
	// Cutout is the subject(s) with the background removed
	Cutout core.ImageRef
}

// SuggestRequest asks for scene suggestions for a cutout.
type SuggestRequest struct {
	// Cutout is the segmented subject image
	Cutout core.ImageRef
	// Count is the number of suggestions wanted (default 3)
	Count int
}

// DetectRequest asks for per-subject bounding boxes in a group cutout.
type DetectRequest struct {
	// Cutout is the segmented group image
	Cutout core.ImageRef
}

// RemixRequest asks for a restyled version of a cutout.
type RemixRequest struct {
	// Cutout is the subject image to restyle
	Cutout core.ImageRef
	// Prompt describes the desired restyling
	Prompt string
}

// BackgroundRequest asks for a generated background scene.
type BackgroundRequest struct {
	// Prompt describes the desired scene
	Prompt string
	// Settings carries composition hints (aspect, lighting)
	Settings core.CompositionSettings
}

// CompositeRequest asks for the final blend of foreground over background.
type CompositeRequest struct {
	// Foreground is the (possibly remixed) cutout
	Foreground core.ImageRef
	// Background is the generated scene
	Background core.ImageRef
	// Settings controls placement and blending
	Settings core.CompositionSettings
}
