package dispatcher

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"remix_backend/core"
	"remix_backend/genai"
	"remix_backend/ledger"
	"remix_backend/logging"
	"remix_backend/pipeline"
	"remix_backend/results"
	"remix_backend/shutdown"
)

// fakePort implements genai.Port with controllable failures, echoing
// images through a real ImageStore.
type fakePort struct {
	mu    sync.Mutex
	store *genai.ImageStore

	segmentErr        error
	suggestErr        error
	detectErr         error
	detectEmpty       bool
	remixErr          error
	backgroundErr     error
	backgroundWaitCtx bool
	compositeErr      error

	detectCalls    int
	backgroundHook func()
}

func (f *fakePort) Segment(ctx context.Context, req genai.SegmentRequest) (genai.SegmentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.segmentErr != nil {
		return genai.SegmentResult{}, f.segmentErr
	}
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
	if f.suggestErr != nil {
		return nil, f.suggestErr
	}
	return []core.SceneSuggestion{
		{Title: "Beach sunset", BackgroundPrompt: "a tropical beach at sunset"},
	}, nil
}

func (f *fakePort) DetectSubjects(ctx context.Context, req genai.DetectRequest) ([]core.DetectedSubject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detectCalls++
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	if f.detectEmpty {
		return nil, nil
	}
	return []core.DetectedSubject{
		{ID: "subject-1", Box: core.BoundingBox{Y1: 0.1, X1: 0.0, Y2: 0.9, X2: 0.3}},
		{ID: "subject-2", Box: core.BoundingBox{Y1: 0.1, X1: 0.35, Y2: 0.9, X2: 0.6}},
		{ID: "subject-3", Box: core.BoundingBox{Y1: 0.1, X1: 0.65, Y2: 0.9, X2: 0.95}},
	}, nil
}

func (f *fakePort) RemixForeground(ctx context.Context, req genai.RemixRequest) (core.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remixErr != nil {
		return core.ImageRef{}, f.remixErr
	}
	img, err := f.store.Get(req.Cutout)
	if err != nil {
		return core.ImageRef{}, err
	}
	return f.store.Put(core.StageRemix, img)
}

func (f *fakePort) GenerateBackground(ctx context.Context, req genai.BackgroundRequest) (core.ImageRef, error) {
	f.mu.Lock()
	hook := f.backgroundHook
	failErr := f.backgroundErr
	waitCtx := f.backgroundWaitCtx
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if waitCtx {
		<-ctx.Done()
		return core.ImageRef{}, ctx.Err()
	}
	if failErr != nil {
		return core.ImageRef{}, failErr
	}
	return f.store.Put(core.StageBackground, solid(256, 256))
}

func (f *fakePort) CompositeImages(ctx context.Context, req genai.CompositeRequest) (core.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.compositeErr != nil {
		return core.ImageRef{}, f.compositeErr
	}
	img, err := f.store.Get(req.Background)
	if err != nil {
		return core.ImageRef{}, err
	}
	return f.store.Put(core.StageComposite, img)
}

func solid(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 128, A: 255})
		}
	}
	return img
}

type harness struct {
	dispatcher *Dispatcher
	store      *Store
	session    *core.RemixSession
	port       *fakePort
	images     *genai.ImageStore
	upload     core.ImageRef
}

func newHarness(t *testing.T, initialCredits int64) *harness {
	t.Helper()

	images := genai.NewImageStore()
	port := &fakePort{store: images}
	logger := logging.NewNopLogger()

	runner, err := pipeline.NewRunner(port, images, pipeline.NewIntervalPacer(0), logger)
	if err != nil {
		t.Fatalf("NewRunner() error: %v", err)
	}

	session := core.NewRemixSession("session-1")
	store, err := NewStore(session, ledger.New(initialCredits), results.NewRecorder(), logger)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	d, err := NewDispatcher(session, store, runner, port, core.DefaultPricing(), logger)
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	upload, err := images.Put(core.StageUpload, solid(200, 100))
	if err != nil {
		t.Fatalf("images.Put() error: %v", err)
	}

	return &harness{dispatcher: d, store: store, session: session, port: port, images: images, upload: upload}
}

// uploaded runs a successful upload and sets the given prompts.
func (h *harness) uploaded(t *testing.T, background, foreground string) {
	t.Helper()
	if err := h.dispatcher.HandleUpload(context.Background(), h.upload); err != nil {
		t.Fatalf("HandleUpload() error: %v", err)
	}
	if err := h.dispatcher.SetPrompts(background, foreground); err != nil {
		t.Fatalf("SetPrompts() error: %v", err)
	}
}

func TestHandleUploadSegmentsAndFetchesSuggestions(t *testing.T) {
	h := newHarness(t, 100)

	if err := h.dispatcher.HandleUpload(context.Background(), h.upload); err != nil {
		t.Fatalf("HandleUpload() error: %v", err)
	}

	state := h.store.State()
	if state.CutoutImage.IsZero() {
		t.Error("expected a cutout image after upload")
	}
	if len(state.SceneSuggestions) != 1 {
		t.Errorf("got %d suggestions, want 1", len(state.SceneSuggestions))
	}
	if phase := h.session.Phase(); phase != core.PhaseAwaitingUserInput {
		t.Errorf("phase = %v, want awaiting_user_input", phase)
	}
	if h.store.Balance() != 100 {
		t.Errorf("upload changed the balance to %d; upload is free", h.store.Balance())
	}
}

func TestHandleUploadSuggestionFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, 100)
	h.port.suggestErr = errors.New("suggestion model offline")

	if err := h.dispatcher.HandleUpload(context.Background(), h.upload); err != nil {
		t.Fatalf("HandleUpload() error: %v (suggestion failures must not fail the upload)", err)
	}

	state := h.store.State()
	if state.CutoutImage.IsZero() {
		t.Error("segmentation result should survive a suggestion failure")
	}
	if len(state.SceneSuggestions) != 0 {
		t.Errorf("got %d suggestions, want 0", len(state.SceneSuggestions))
	}
	if phase := h.session.Phase(); phase != core.PhaseAwaitingUserInput {
		t.Errorf("phase = %v, want awaiting_user_input", phase)
	}
}

func TestHandleUploadSegmentationFailureIsCritical(t *testing.T) {
	h := newHarness(t, 100)
	h.port.segmentErr = errors.New("segmentation service down")

	err := h.dispatcher.HandleUpload(context.Background(), h.upload)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(h.store.Transactions()) != 0 {
		t.Error("segmentation failure must not touch the ledger")
	}
	if phase := h.session.Phase(); phase != core.PhaseIdle {
		t.Errorf("phase = %v, want idle", phase)
	}
}

func TestInitiateRequiresCutoutAndPrompt(t *testing.T) {
	h := newHarness(t, 100)

	_, err := h.dispatcher.InitiateSimpleGenerate(context.Background())
	if ve, ok := core.IsValidationError(err); !ok || ve.Field != "cutout_image" {
		t.Errorf("error = %v, want ValidationError on cutout_image", err)
	}

	h.uploaded(t, "", "")
	_, err = h.dispatcher.InitiateSimpleGenerate(context.Background())
	if ve, ok := core.IsValidationError(err); !ok || ve.Field != "background_prompt" {
		t.Errorf("error = %v, want ValidationError on background_prompt", err)
	}

	if len(h.store.Transactions()) != 0 {
		t.Error("validation failures must never charge")
	}
}

func TestInitiateSingleRequestsConfirmationWithoutDebit(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a mountain lake", "")

	req, err := h.dispatcher.InitiateSimpleGenerate(context.Background())
	if err != nil {
		t.Fatalf("InitiateSimpleGenerate() error: %v", err)
	}

	if req.Cost != 10 || req.Action != core.OpSingleRemix {
		t.Errorf("request = (cost %d, action %q), want (10, single_remix)", req.Cost, req.Action)
	}
	if h.store.Balance() != 100 {
		t.Error("confirmation request must not debit")
	}
	if h.store.Pending() == nil {
		t.Error("expected a pending confirmation")
	}
}

func TestInitiateGroupCostsFromDetectionAndMemoizes(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a london street", "in victorian dress")
	if err := h.dispatcher.SetGroupMode(true); err != nil {
		t.Fatalf("SetGroupMode() error: %v", err)
	}

	req, err := h.dispatcher.InitiateSimpleGenerate(context.Background())
	if err != nil {
		t.Fatalf("InitiateSimpleGenerate() error: %v", err)
	}

	// base 5 + 3 subjects x 5 + background 5 + composite 5.
	if req.Cost != 30 {
		t.Errorf("group cost = %d, want 30", req.Cost)
	}
	if len(req.Context.Subjects) != 3 {
		t.Errorf("confirmation carries %d subjects, want 3", len(req.Context.Subjects))
	}
	if h.store.Balance() != 100 {
		t.Error("detection-only costing pass must not debit")
	}

	// A second initiate reuses the memoized detection.
	if _, err := h.dispatcher.InitiateSimpleGenerate(context.Background()); err != nil {
		t.Fatalf("second InitiateSimpleGenerate() error: %v", err)
	}
	if h.port.detectCalls != 1 {
		t.Errorf("detection called %d times, want 1 (memoized)", h.port.detectCalls)
	}
}

func TestInitiateGroupNoSubjectsDetected(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a london street", "")
	if err := h.dispatcher.SetGroupMode(true); err != nil {
		t.Fatalf("SetGroupMode() error: %v", err)
	}
	h.port.detectEmpty = true

	_, err := h.dispatcher.InitiateSimpleGenerate(context.Background())
	if !errors.Is(err, core.ErrNoSubjectsDetected) {
		t.Errorf("error = %v, want ErrNoSubjectsDetected", err)
	}
	if len(h.store.Transactions()) != 0 {
		t.Error("an empty detection must never charge")
	}
}

func TestExecuteSingleSuccess(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "the surface of mars", "as an astronaut")

	if err := h.dispatcher.ExecuteSingleSubjectRemix(context.Background()); err != nil {
		t.Fatalf("ExecuteSingleSubjectRemix() error: %v", err)
	}

	if got := h.store.Balance(); got != 90 {
		t.Errorf("balance = %d, want 90", got)
	}

	txns := h.store.Transactions()
	if len(txns) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txns))
	}
	if txns[0].Kind != ledger.KindDeduction || txns[0].Amount != -10 {
		t.Errorf("transaction = (%q, %d), want (deduction, -10)", txns[0].Kind, txns[0].Amount)
	}

	recorded := h.store.Results()
	if len(recorded) != 1 || !recorded[0].Success {
		t.Fatalf("expected exactly one success result, got %+v", recorded)
	}
	if recorded[0].Cost != 10 || recorded[0].Operation != core.OpSingleRemix {
		t.Errorf("result = (cost %d, op %q), want (10, single_remix)", recorded[0].Cost, recorded[0].Operation)
	}

	if h.store.State().FinalImage.IsZero() {
		t.Error("expected a final image in state")
	}
	if phase := h.session.Phase(); phase != core.PhaseCompleted {
		t.Errorf("phase = %v, want completed", phase)
	}
}

func TestExecuteSingleFailureRefundsAndRecords(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a gala hall", "in a tuxedo")
	h.port.backgroundErr = errors.New("503 service unavailable")

	err := h.dispatcher.ExecuteSingleSubjectRemix(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	pipeErr, ok := core.IsPipelineExecutionError(err)
	if !ok {
		t.Fatalf("error %v is not a PipelineExecutionError", err)
	}
	if pipeErr.Category != core.FailureTransient {
		t.Errorf("category = %q, want transient", pipeErr.Category)
	}

	// Deduction then refund, both tied to the same run, net zero.
	txns := h.store.Transactions()
	if len(txns) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txns))
	}
	if txns[0].Kind != ledger.KindDeduction || txns[0].Amount != -10 || txns[0].BalanceAfter != 90 {
		t.Errorf("deduction = (%q, %d, after %d), want (deduction, -10, 90)",
			txns[0].Kind, txns[0].Amount, txns[0].BalanceAfter)
	}
	if txns[1].Kind != ledger.KindRefund || txns[1].Amount != 10 || txns[1].BalanceAfter != 100 {
		t.Errorf("refund = (%q, %d, after %d), want (refund, 10, 100)",
			txns[1].Kind, txns[1].Amount, txns[1].BalanceAfter)
	}
	if txns[0].Metadata["run_id"] != txns[1].Metadata["run_id"] {
		t.Error("deduction and refund must share a run ID")
	}
	if got := h.store.Balance(); got != 100 {
		t.Errorf("balance = %d, want 100 after refund", got)
	}

	recorded := h.store.Results()
	if len(recorded) != 1 {
		t.Fatalf("got %d results, want 1", len(recorded))
	}
	if recorded[0].Success || !recorded[0].Refunded {
		t.Errorf("failure result = (success %v, refunded %v), want (false, true)",
			recorded[0].Success, recorded[0].Refunded)
	}
	if recorded[0].ErrorMessage == "" {
		t.Error("failure result must carry the user-facing message")
	}

	if !h.store.State().FinalImage.IsZero() {
		t.Error("failed run must not leave a final image in state")
	}
	if phase := h.session.Phase(); phase != core.PhaseFailed {
		t.Errorf("phase = %v, want failed", phase)
	}
}

func TestInsufficientCreditsNeverCharges(t *testing.T) {
	h := newHarness(t, 5)
	h.uploaded(t, "a mountain lake", "")

	err := h.dispatcher.ExecuteSingleSubjectRemix(context.Background())
	ie, ok := core.IsInsufficientCredits(err)
	if !ok {
		t.Fatalf("error = %v, want InsufficientCreditsError", err)
	}
	if ie.Required != 10 || ie.Available != 5 {
		t.Errorf("(required, available) = (%d, %d), want (10, 5)", ie.Required, ie.Available)
	}
	if len(h.store.Transactions()) != 0 {
		t.Error("insufficient-credit rejections must never charge")
	}
	if len(h.store.Results()) != 0 {
		t.Error("insufficient-credit rejections must not record results")
	}
}

func TestConfirmPendingExecutesGroupRun(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a london street", "in victorian dress")
	if err := h.dispatcher.SetGroupMode(true); err != nil {
		t.Fatalf("SetGroupMode() error: %v", err)
	}

	if _, err := h.dispatcher.InitiateSimpleGenerate(context.Background()); err != nil {
		t.Fatalf("InitiateSimpleGenerate() error: %v", err)
	}
	if err := h.dispatcher.ConfirmPending(context.Background()); err != nil {
		t.Fatalf("ConfirmPending() error: %v", err)
	}

	if got := h.store.Balance(); got != 70 {
		t.Errorf("balance = %d, want 70 (100 - 30)", got)
	}
	recorded := h.store.Results()
	if len(recorded) != 1 || !recorded[0].Success {
		t.Fatalf("expected one success result, got %+v", recorded)
	}
	if recorded[0].SubjectCount != 3 || recorded[0].Operation != core.OpGroupRemix {
		t.Errorf("result = (%d subjects, %q), want (3, group_remix)",
			recorded[0].SubjectCount, recorded[0].Operation)
	}
	if h.store.Pending() != nil {
		t.Error("confirmation should be consumed")
	}
}

func TestCancelPendingChargesNothing(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a mountain lake", "")

	if _, err := h.dispatcher.InitiateSimpleGenerate(context.Background()); err != nil {
		t.Fatalf("InitiateSimpleGenerate() error: %v", err)
	}
	h.dispatcher.CancelPending()

	if h.store.Pending() != nil {
		t.Error("pending confirmation should be cleared")
	}
	if len(h.store.Transactions()) != 0 {
		t.Error("cancelling must never charge")
	}
	if phase := h.session.Phase(); phase != core.PhaseAwaitingUserInput {
		t.Errorf("phase = %v, want awaiting_user_input", phase)
	}
}

func TestTeardownMidRunDiscardsOutcomeButKeepsDebit(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a forest clearing", "")
	h.port.backgroundHook = func() { h.session.Teardown() }

	if err := h.dispatcher.ExecuteSingleSubjectRemix(context.Background()); err != nil {
		t.Fatalf("ExecuteSingleSubjectRemix() error: %v", err)
	}

	// The debit stands; only explicit failure paths refund.
	if got := h.store.Balance(); got != 90 {
		t.Errorf("balance = %d, want 90 (debit kept after teardown)", got)
	}
	if len(h.store.Results()) != 0 {
		t.Error("torn-down run must not record a result")
	}
	if !h.store.State().FinalImage.IsZero() {
		t.Error("torn-down run must not write a final image")
	}
}

func TestExecuteAdvancedStepBackground(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a neon city at night", "")

	if err := h.dispatcher.ExecuteAdvancedRemixStep(context.Background(), core.OpStepBackground); err != nil {
		t.Fatalf("ExecuteAdvancedRemixStep() error: %v", err)
	}

	if got := h.store.Balance(); got != 95 {
		t.Errorf("balance = %d, want 95 (step cost 5)", got)
	}
	state := h.store.State()
	if state.GeneratedBackground.IsZero() {
		t.Error("expected a generated background in state")
	}
	if !state.FinalImage.IsZero() {
		t.Error("a background step alone must not produce a final image")
	}

	recorded := h.store.Results()
	if len(recorded) != 1 || recorded[0].Operation != core.OpStepBackground {
		t.Fatalf("expected one step_background result, got %+v", recorded)
	}
}

func TestExecuteAdvancedStepCompositeRequiresBackground(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a neon city at night", "")

	err := h.dispatcher.ExecuteAdvancedRemixStep(context.Background(), core.OpStepComposite)
	if ve, ok := core.IsValidationError(err); !ok || ve.Field != "generated_background" {
		t.Errorf("error = %v, want ValidationError on generated_background", err)
	}
	if len(h.store.Transactions()) != 0 {
		t.Error("validation failures must never charge")
	}
}

func TestRunInProgressRejectsSecondAction(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a forest clearing", "")

	release := make(chan struct{})
	started := make(chan struct{})
	h.port.backgroundHook = func() {
		close(started)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		done <- h.dispatcher.ExecuteSingleSubjectRemix(context.Background())
	}()
	<-started

	if _, err := h.dispatcher.InitiateSimpleGenerate(context.Background()); !errors.Is(err, core.ErrRunInProgress) {
		t.Errorf("error = %v, want ErrRunInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run error: %v", err)
	}
}

func TestRunGuardPassesChargedRunThrough(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a beach at dawn", "")

	manager := shutdown.NewManager(zap.NewNop())
	h.dispatcher.WithRunGuard(manager.WrapOperation)

	if err := h.dispatcher.ExecuteSingleSubjectRemix(context.Background()); err != nil {
		t.Fatalf("ExecuteSingleSubjectRemix() error: %v", err)
	}
	if got := h.store.Balance(); got != 90 {
		t.Errorf("balance = %d, want 90", got)
	}
	if got := manager.ActiveOperations(); got != 0 {
		t.Errorf("active operations = %d, want 0 after completion", got)
	}
}

func TestRunGuardRejectsChargedRunDuringShutdownWithoutDebit(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a beach at dawn", "")

	manager := shutdown.NewManager(zap.NewNop())
	h.dispatcher.WithRunGuard(manager.WrapOperation)
	if err := manager.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	err := h.dispatcher.ExecuteSingleSubjectRemix(context.Background())
	if !errors.Is(err, shutdown.ErrTrackerClosed) {
		t.Fatalf("error = %v, want ErrTrackerClosed", err)
	}
	if len(h.store.Transactions()) != 0 {
		t.Error("a run rejected at shutdown must never charge")
	}
	if len(h.store.Results()) != 0 {
		t.Error("a run rejected at shutdown must not record a result")
	}
}

func TestRunTimeoutFailsRunAndRefunds(t *testing.T) {
	h := newHarness(t, 100)
	h.uploaded(t, "a beach at dawn", "")
	h.port.backgroundWaitCtx = true
	h.dispatcher.WithRunTimeout(20 * time.Millisecond)

	err := h.dispatcher.ExecuteSingleSubjectRemix(context.Background())
	pipeErr, ok := core.IsPipelineExecutionError(err)
	if !ok {
		t.Fatalf("error %v is not a PipelineExecutionError", err)
	}
	if pipeErr.Category != core.FailureTransient {
		t.Errorf("category = %q, want transient", pipeErr.Category)
	}

	if got := h.store.Balance(); got != 100 {
		t.Errorf("balance = %d, want 100 after refund", got)
	}
	recorded := h.store.Results()
	if len(recorded) != 1 || recorded[0].Success || !recorded[0].Refunded {
		t.Fatalf("expected one refunded failure result, got %+v", recorded)
	}
}
