// Package pipeline implements the generation pipelines.
//
// group.go implements the group-photo pipeline. Subjects are cropped out
// of the cutout up front, remixed one at a time behind the pacer while
// the background generates concurrently, then stitched back onto a
// canvas with the cutout's dimensions and composited.
package pipeline

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"remix_backend/core"
	"remix_backend/genai"
	"remix_backend/geometry"
)

// GroupInput carries everything the group pipeline needs. Subjects come
// from a prior detection call; their order is preserved through remixing
// and stitching.
type GroupInput struct {
	// Cutout is the segmented group image
	Cutout core.ImageRef
	// Subjects are the detected people, in detection order
	Subjects []core.DetectedSubject
	// ForegroundPrompt restyles each subject (required for group runs)
	ForegroundPrompt string
	// BackgroundPrompt describes the scene to generate (required)
	BackgroundPrompt string
	// Settings controls compositing
	Settings core.CompositionSettings
}

// RunGroup executes the group pipeline and returns the final composite
// reference.
//
// All crops are taken before any remix call so a late crop failure never
// wastes paid remix work. Per-subject remixes run sequentially in
// detection order, each gated by the pacer; the background branch runs
// concurrently. A failure in either branch cancels the other, and no
// partial composite is ever produced.
//
// Without a foreground prompt there is nothing to remix per subject: the
// crop/remix/stitch phase is skipped entirely and the cutout goes to the
// composite as-is.
func (r *Runner) RunGroup(ctx context.Context, in GroupInput) (core.ImageRef, RunStats, error) {
	stats := RunStats{SubjectCount: len(in.Subjects)}
	if len(in.Subjects) == 0 {
		return core.ImageRef{}, stats, core.ErrNoSubjectsDetected
	}
	if in.ForegroundPrompt == "" {
		return r.runGroupBackgroundOnly(ctx, in, stats)
	}

	cutout, err := r.store.Get(in.Cutout)
	if err != nil {
		return core.ImageRef{}, stats, failStage(StageCrop, err)
	}
	canvasWidth := cutout.Bounds().Dx()
	canvasHeight := cutout.Bounds().Dy()

	// All crops happen before the first paid remix call.
	crops := make([]core.ImageRef, len(in.Subjects))
	for i, subject := range in.Subjects {
		cropped, err := geometry.Crop(cutout, subject.Box)
		if err != nil {
			return core.ImageRef{}, stats, failStage(StageCrop, err)
		}
		ref, err := r.store.Put(core.StageCrop, cropped)
		if err != nil {
			return core.ImageRef{}, stats, failStage(StageCrop, err)
		}
		crops[i] = ref
	}

	var calls atomic.Int64
	remixed := make([]core.ImageRef, len(in.Subjects))
	var background core.ImageRef

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for i, subject := range in.Subjects {
			if err := r.pacer.Wait(gctx); err != nil {
				return failStage(StageRemix, err)
			}

			r.logger.Debug("Remixing subject",
				zap.String("subject_id", subject.ID),
				zap.Int("position", i+1),
				zap.Int("total", len(in.Subjects)))

			calls.Add(1)
			ref, err := r.port.RemixForeground(gctx, genai.RemixRequest{
				Cutout: crops[i],
				Prompt: in.ForegroundPrompt,
			})
			if err != nil {
				return failStage(StageRemix, err)
			}
			remixed[i] = ref
		}
		return nil
	})

	g.Go(func() error {
		calls.Add(1)
		ref, err := r.port.GenerateBackground(gctx, genai.BackgroundRequest{
			Prompt:   in.BackgroundPrompt,
			Settings: in.Settings,
		})
		if err != nil {
			return failStage(StageBackground, err)
		}
		background = ref
		return nil
	})

	if err := g.Wait(); err != nil {
		return core.ImageRef{}, statsWithCalls(stats, &calls), err
	}

	// Reassemble remixed subjects at their original positions on a
	// canvas matching the cutout's crop-time dimensions.
	pieces := make([]geometry.Piece, len(in.Subjects))
	for i, subject := range in.Subjects {
		img, err := r.store.Get(remixed[i])
		if err != nil {
			return core.ImageRef{}, statsWithCalls(stats, &calls), failStage(StageStitch, err)
		}
		pieces[i] = geometry.Piece{Image: img, Box: subject.Box}
	}
	stitched, err := geometry.Stitch(pieces, canvasWidth, canvasHeight)
	if err != nil {
		return core.ImageRef{}, statsWithCalls(stats, &calls), failStage(StageStitch, err)
	}
	stitchedRef, err := r.store.Put(core.StageStitch, stitched)
	if err != nil {
		return core.ImageRef{}, statsWithCalls(stats, &calls), failStage(StageStitch, err)
	}

	calls.Add(1)
	final, err := r.port.CompositeImages(ctx, genai.CompositeRequest{
		Foreground: stitchedRef,
		Background: background,
		Settings:   in.Settings,
	})
	if err != nil {
		return core.ImageRef{}, statsWithCalls(stats, &calls), failStage(StageComposite, err)
	}
	return final, statsWithCalls(stats, &calls), nil
}

// runGroupBackgroundOnly handles the no-foreground-prompt path: generate
// the background and composite the untouched cutout into it.
func (r *Runner) runGroupBackgroundOnly(ctx context.Context, in GroupInput, stats RunStats) (core.ImageRef, RunStats, error) {
	stats.ExternalCalls = 1
	background, err := r.port.GenerateBackground(ctx, genai.BackgroundRequest{
		Prompt:   in.BackgroundPrompt,
		Settings: in.Settings,
	})
	if err != nil {
		return core.ImageRef{}, stats, failStage(StageBackground, err)
	}

	stats.ExternalCalls++
	final, err := r.port.CompositeImages(ctx, genai.CompositeRequest{
		Foreground: in.Cutout,
		Background: background,
		Settings:   in.Settings,
	})
	if err != nil {
		return core.ImageRef{}, stats, failStage(StageComposite, err)
	}
	return final, stats, nil
}

func statsWithCalls(stats RunStats, calls *atomic.Int64) RunStats {
	stats.ExternalCalls = int(calls.Load())
	return stats
}
