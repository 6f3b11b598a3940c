// Package pipeline implements the generation pipelines.
//
// single.go implements the single-subject pipeline: the foreground remix
// and background generation run in parallel, then the composite call
// joins them. When no foreground prompt is given the cutout passes
// through unchanged and only the background branch makes a call.
package pipeline

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"remix_backend/core"
	"remix_backend/genai"
)

// SingleInput carries everything the single-subject pipeline needs.
type SingleInput struct {
	// Cutout is the segmented subject image
	Cutout core.ImageRef
	// ForegroundPrompt optionally restyles the subject; empty means the
	// cutout is used as-is
	ForegroundPrompt string
	// BackgroundPrompt describes the scene to generate (required)
	BackgroundPrompt string
	// Settings controls compositing
	Settings core.CompositionSettings
}

// RunSingle executes the single-subject pipeline and returns the final
// composite reference. If either parallel branch fails the other is
// cancelled and no composite is attempted.
func (r *Runner) RunSingle(ctx context.Context, in SingleInput) (core.ImageRef, RunStats, error) {
	var calls atomic.Int64

	var foreground, background core.ImageRef
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if in.ForegroundPrompt == "" {
			foreground = in.Cutout
			return nil
		}
		calls.Add(1)
		ref, err := r.port.RemixForeground(gctx, genai.RemixRequest{
			Cutout: in.Cutout,
			Prompt: in.ForegroundPrompt,
		})
		if err != nil {
			return failStage(StageRemix, err)
		}
		foreground = ref
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
		return core.ImageRef{}, RunStats{ExternalCalls: int(calls.Load())}, err
	}

	r.logger.Debug("Parallel branches complete, compositing",
		zap.Object("foreground", foreground),
		zap.Object("background", background))

	calls.Add(1)
	final, err := r.port.CompositeImages(ctx, genai.CompositeRequest{
		Foreground: foreground,
		Background: background,
		Settings:   in.Settings,
	})
	stats := RunStats{ExternalCalls: int(calls.Load())}
	if err != nil {
		return core.ImageRef{}, stats, failStage(StageComposite, err)
	}
	return final, stats, nil
}
