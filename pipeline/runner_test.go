package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"

	"remix_backend/core"
	"remix_backend/genai"
	"remix_backend/logging"
)

// fakePort implements genai.Port against a real ImageStore, echoing
// inputs back as outputs so reference plumbing can be verified without a
// live service.
type fakePort struct {
	mu    sync.Mutex
	store *genai.ImageStore

	remixErr      error
	backgroundErr error
	compositeErr  error

	remixPrompts  []string
	remixInputs   []core.ImageRef
	compositeReqs []genai.CompositeRequest
	calls         int
}

func (f *fakePort) record() { f.calls++ }

func (f *fakePort) Segment(ctx context.Context, req genai.SegmentRequest) (genai.SegmentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record()

	img, err := f.store.Get(req.Image)
	if err != nil {
		return genai.SegmentResult{}, err
	}
	ref, err := f.store.Put(core.StageCutout, img)
	return genai.SegmentResult{Cutout: ref}, err
}

func (f *fakePort) SuggestScenes(ctx context.Context, req genai.SuggestRequest) ([]core.SceneSuggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record()
	return []core.SceneSuggestion{{Title: "Beach", BackgroundPrompt: "a beach"}}, nil
}

func (f *fakePort) DetectSubjects(ctx context.Context, req genai.DetectRequest) ([]core.DetectedSubject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record()
	return nil, nil
}

func (f *fakePort) RemixForeground(ctx context.Context, req genai.RemixRequest) (core.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record()

	if f.remixErr != nil {
		return core.ImageRef{}, f.remixErr
	}
	f.remixPrompts = append(f.remixPrompts, req.Prompt)
	f.remixInputs = append(f.remixInputs, req.Cutout)

	img, err := f.store.Get(req.Cutout)
	if err != nil {
		return core.ImageRef{}, err
	}
	return f.store.Put(core.StageRemix, img)
}

func (f *fakePort) GenerateBackground(ctx context.Context, req genai.BackgroundRequest) (core.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record()

	if f.backgroundErr != nil {
		return core.ImageRef{}, f.backgroundErr
	}
	return f.store.Put(core.StageBackground, solidImage(256, 256, color.NRGBA{B: 200, A: 255}))
}

func (f *fakePort) CompositeImages(ctx context.Context, req genai.CompositeRequest) (core.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record()

	if f.compositeErr != nil {
		return core.ImageRef{}, f.compositeErr
	}
	f.compositeReqs = append(f.compositeReqs, req)

	img, err := f.store.Get(req.Background)
	if err != nil {
		return core.ImageRef{}, err
	}
	return f.store.Put(core.StageComposite, img)
}

func (f *fakePort) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countPacer records how many times the pipeline asked for a pacing slot.
type countPacer struct {
	mu    sync.Mutex
	waits int
}

func (p *countPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	p.waits++
	p.mu.Unlock()
	return ctx.Err()
}

func (p *countPacer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits
}

func solidImage(w, h int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func newTestRunner(t *testing.T) (*Runner, *fakePort, *countPacer, *genai.ImageStore) {
	t.Helper()

	store := genai.NewImageStore()
	port := &fakePort{store: store}
	pacer := &countPacer{}

	runner, err := NewRunner(port, store, pacer, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("NewRunner() error: %v", err)
	}
	return runner, port, pacer, store
}

func putCutout(t *testing.T, store *genai.ImageStore, w, h int) core.ImageRef {
	t.Helper()
	ref, err := store.Put(core.StageCutout, solidImage(w, h, color.NRGBA{R: 255, A: 255}))
	if err != nil {
		t.Fatalf("store.Put() error: %v", err)
	}
	return ref
}

func TestRunSingleWithForegroundPrompt(t *testing.T) {
	runner, port, _, store := newTestRunner(t)
	cutout := putCutout(t, store, 100, 100)

	final, stats, err := runner.RunSingle(context.Background(), SingleInput{
		Cutout:           cutout,
		ForegroundPrompt: "as an astronaut",
		BackgroundPrompt: "the surface of mars",
	})
	if err != nil {
		t.Fatalf("RunSingle() error: %v", err)
	}

	if final.IsZero() || final.Stage != core.StageComposite {
		t.Errorf("final = %+v, want composite-stage reference", final)
	}
	if stats.ExternalCalls != 3 {
		t.Errorf("ExternalCalls = %d, want 3 (remix, background, composite)", stats.ExternalCalls)
	}
	if len(port.remixPrompts) != 1 || port.remixPrompts[0] != "as an astronaut" {
		t.Errorf("remix prompts = %v, want [as an astronaut]", port.remixPrompts)
	}
}

func TestRunSingleWithoutForegroundPromptPassesCutoutThrough(t *testing.T) {
	runner, port, _, store := newTestRunner(t)
	cutout := putCutout(t, store, 100, 100)

	_, stats, err := runner.RunSingle(context.Background(), SingleInput{
		Cutout:           cutout,
		BackgroundPrompt: "a forest clearing",
	})
	if err != nil {
		t.Fatalf("RunSingle() error: %v", err)
	}

	if stats.ExternalCalls != 2 {
		t.Errorf("ExternalCalls = %d, want 2 (background, composite)", stats.ExternalCalls)
	}
	if len(port.remixInputs) != 0 {
		t.Error("remix should not be called without a foreground prompt")
	}
	if len(port.compositeReqs) != 1 {
		t.Fatalf("composite called %d times, want 1", len(port.compositeReqs))
	}
	if port.compositeReqs[0].Foreground.ID != cutout.ID {
		t.Error("composite foreground should be the unmodified cutout")
	}
}

func TestRunSingleBackgroundFailureSkipsComposite(t *testing.T) {
	runner, port, _, store := newTestRunner(t)
	cutout := putCutout(t, store, 100, 100)
	port.backgroundErr = errors.New("503 service unavailable")

	final, _, err := runner.RunSingle(context.Background(), SingleInput{
		Cutout:           cutout,
		ForegroundPrompt: "in a tuxedo",
		BackgroundPrompt: "a gala hall",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !final.IsZero() {
		t.Error("failed run must not return a partial composite")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error %v is not a StageError", err)
	}
	if stageErr.Stage != StageBackground {
		t.Errorf("Stage = %q, want %q", stageErr.Stage, StageBackground)
	}
	if len(port.compositeReqs) != 0 {
		t.Error("composite must not run after a branch failure")
	}
}

func threeSubjects() []core.DetectedSubject {
	return []core.DetectedSubject{
		{ID: "subject-1", Description: "left", Box: core.BoundingBox{Y1: 0.1, X1: 0.0, Y2: 0.9, X2: 0.3}},
		{ID: "subject-2", Description: "middle", Box: core.BoundingBox{Y1: 0.1, X1: 0.35, Y2: 0.9, X2: 0.6}},
		{ID: "subject-3", Description: "right", Box: core.BoundingBox{Y1: 0.1, X1: 0.65, Y2: 0.9, X2: 0.95}},
	}
}

func TestRunGroupRemixesSubjectsInOrderWithPacing(t *testing.T) {
	runner, port, pacer, store := newTestRunner(t)
	cutout := putCutout(t, store, 200, 100)

	final, stats, err := runner.RunGroup(context.Background(), GroupInput{
		Cutout:           cutout,
		Subjects:         threeSubjects(),
		ForegroundPrompt: "in victorian dress",
		BackgroundPrompt: "a london street",
	})
	if err != nil {
		t.Fatalf("RunGroup() error: %v", err)
	}

	if final.IsZero() || final.Stage != core.StageComposite {
		t.Errorf("final = %+v, want composite-stage reference", final)
	}
	if stats.SubjectCount != 3 {
		t.Errorf("SubjectCount = %d, want 3", stats.SubjectCount)
	}
	// 3 remixes + 1 background + 1 composite.
	if stats.ExternalCalls != 5 {
		t.Errorf("ExternalCalls = %d, want 5", stats.ExternalCalls)
	}
	if pacer.count() != 3 {
		t.Errorf("pacer waits = %d, want 3 (one per subject)", pacer.count())
	}

	// Crops arrive at the remix service in detection order, sized per box.
	if len(port.remixInputs) != 3 {
		t.Fatalf("remix called %d times, want 3", len(port.remixInputs))
	}
	wantWidths := []int{60, 50, 60}
	for i, ref := range port.remixInputs {
		if ref.Stage != core.StageCrop {
			t.Errorf("remix input %d stage = %q, want crop", i, ref.Stage)
		}
		if ref.Width != wantWidths[i] {
			t.Errorf("remix input %d width = %d, want %d", i, ref.Width, wantWidths[i])
		}
	}

	// The composite foreground is the stitched canvas at cutout size.
	if len(port.compositeReqs) != 1 {
		t.Fatalf("composite called %d times, want 1", len(port.compositeReqs))
	}
	fg := port.compositeReqs[0].Foreground
	if fg.Stage != core.StageStitch {
		t.Errorf("composite foreground stage = %q, want stitch", fg.Stage)
	}
	if fg.Width != 200 || fg.Height != 100 {
		t.Errorf("stitched canvas = %dx%d, want 200x100", fg.Width, fg.Height)
	}
}

func TestRunGroupWithoutForegroundPromptSkipsRemixing(t *testing.T) {
	runner, port, pacer, store := newTestRunner(t)
	cutout := putCutout(t, store, 200, 100)

	final, stats, err := runner.RunGroup(context.Background(), GroupInput{
		Cutout:           cutout,
		Subjects:         threeSubjects(),
		BackgroundPrompt: "a london street",
	})
	if err != nil {
		t.Fatalf("RunGroup() error: %v", err)
	}
	if final.IsZero() {
		t.Fatal("expected a composite reference")
	}

	if stats.ExternalCalls != 2 {
		t.Errorf("ExternalCalls = %d, want 2 (background, composite)", stats.ExternalCalls)
	}
	if len(port.remixInputs) != 0 {
		t.Error("remix must not run without a foreground prompt")
	}
	if pacer.count() != 0 {
		t.Errorf("pacer waits = %d, want 0", pacer.count())
	}
	if port.compositeReqs[0].Foreground.ID != cutout.ID {
		t.Error("composite foreground should be the unmodified cutout")
	}
}

func TestRunGroupNoSubjectsIsSentinelError(t *testing.T) {
	runner, port, _, store := newTestRunner(t)
	cutout := putCutout(t, store, 200, 100)

	_, _, err := runner.RunGroup(context.Background(), GroupInput{
		Cutout:           cutout,
		ForegroundPrompt: "x",
		BackgroundPrompt: "y",
	})
	if !errors.Is(err, core.ErrNoSubjectsDetected) {
		t.Errorf("error = %v, want ErrNoSubjectsDetected", err)
	}
	if port.callCount() != 0 {
		t.Errorf("made %d external calls, want 0", port.callCount())
	}
}

func TestRunGroupRemixFailureProducesNoComposite(t *testing.T) {
	runner, port, _, store := newTestRunner(t)
	cutout := putCutout(t, store, 200, 100)
	port.remixErr = fmt.Errorf("rate limit exceeded")

	final, _, err := runner.RunGroup(context.Background(), GroupInput{
		Cutout:           cutout,
		Subjects:         threeSubjects(),
		ForegroundPrompt: "in victorian dress",
		BackgroundPrompt: "a london street",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !final.IsZero() {
		t.Error("failed run must not return a partial composite")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error %v is not a StageError", err)
	}
	if stageErr.Stage != StageRemix {
		t.Errorf("Stage = %q, want %q", stageErr.Stage, StageRemix)
	}
	if len(port.compositeReqs) != 0 {
		t.Error("composite must not run after a remix failure")
	}
}
