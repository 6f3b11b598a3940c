// Package dispatcher drives the Photo Remix workflow.
//
// dispatcher.go implements the GenerationDispatcher organism: the
// top-level entry point that handles uploads, decides the single vs.
// group path, runs pre-flight checks, requests confirmation for costed
// actions, and wraps every charged run in the debit/refund saga.
//
// This organism composes:
//   - messages.go: the dispatch contract emitted to the Store
//   - store.go: the host state container
//   - pipeline.Runner: single and group pipeline execution
//   - genai.Port: segmentation, suggestion, and detection calls
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"remix_backend/core"
	"remix_backend/genai"
	"remix_backend/logging"
	"remix_backend/pipeline"
	"remix_backend/results"
)

// RunGuard brackets a charged run with the host's lifecycle tracking, so
// shutdown can wait for an in-flight debit to reach its success record or
// refund before the process exits. The signature matches
// shutdown.Manager.WrapOperation. A guard that rejects the run must not
// call fn; nothing has been charged at that point.
type RunGuard func(ctx context.Context, name string, fn func(context.Context) error) error

// Dispatcher orchestrates one session's generation flow. Exactly one
// dispatcher exists per session; cost-bearing actions must not be issued
// concurrently against the same balance.
type Dispatcher struct {
	session    *core.RemixSession
	store      *Store
	runner     *pipeline.Runner
	port       genai.Port
	pricing    core.Pricing
	settings   core.CompositionSettings
	logger     *logging.Logger
	guard      RunGuard
	runTimeout time.Duration
}

// NewDispatcher creates a dispatcher bound to one session and store.
func NewDispatcher(session *core.RemixSession, store *Store, runner *pipeline.Runner, port genai.Port, pricing core.Pricing, logger *logging.Logger) (*Dispatcher, error) {
	if session == nil {
		return nil, fmt.Errorf("dispatcher: session cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("dispatcher: store cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("dispatcher: runner cannot be nil")
	}
	if port == nil {
		return nil, fmt.Errorf("dispatcher: port cannot be nil")
	}
	if err := pricing.Validate(); err != nil {
		return nil, fmt.Errorf("dispatcher: invalid pricing: %w", err)
	}
	if logger == nil {
		return nil, fmt.Errorf("dispatcher: logger cannot be nil")
	}
	return &Dispatcher{
		session: session,
		store:   store,
		runner:  runner,
		port:    port,
		pricing: pricing,
		logger:  logger.Named("dispatcher"),
	}, nil
}

// WithRunGuard sets the lifecycle guard wrapped around every charged run.
// Returns the dispatcher for chaining.
func (d *Dispatcher) WithRunGuard(guard RunGuard) *Dispatcher {
	d.guard = guard
	return d
}

// WithRunTimeout bounds the pipeline execution of a charged run. A run
// that exceeds the timeout fails, is refunded, and records a failure
// result like any other pipeline error. Zero means no bound.
// Returns the dispatcher for chaining.
func (d *Dispatcher) WithRunTimeout(timeout time.Duration) *Dispatcher {
	d.runTimeout = timeout
	return d
}

// SetComposition updates the compositing settings used by later runs.
func (d *Dispatcher) SetComposition(settings core.CompositionSettings) {
	d.settings = settings
}

// SetPrompts updates the user's prompts. Changing a prompt invalidates
// any previously produced final image.
func (d *Dispatcher) SetPrompts(background, foreground string) error {
	return d.store.Apply(StatePatch{
		BackgroundPrompt: &background,
		ForegroundPrompt: &foreground,
	})
}

// SetGroupMode marks the current photo as a group photo.
func (d *Dispatcher) SetGroupMode(isGroup bool) error {
	return d.store.Apply(StatePatch{IsGroupPhoto: &isGroup})
}

// HandleUpload starts a fresh flow for a newly uploaded photo. The
// previous flow's state is discarded, segmentation runs as a critical
// stage, then suggestions are fetched best-effort: a suggestion failure
// downgrades to a log entry and the flow continues with none.
//
// Nothing in this path is charged. A segmentation failure propagates
// as-is with the state left reset.
func (d *Dispatcher) HandleUpload(ctx context.Context, original core.ImageRef) error {
	if original.IsZero() {
		return core.NewValidationError("original_image", "an uploaded image is required")
	}
	if d.session.Phase() == core.PhaseRunning {
		return core.ErrRunInProgress
	}

	if err := d.store.Apply(StatePatch{Reset: true, Original: &original}); err != nil {
		return err
	}
	d.session.SetPhase(core.PhaseSegmenting)
	d.logger.Info("Upload received, segmenting", zap.Object("image", original))

	seg, err := d.port.Segment(ctx, genai.SegmentRequest{Image: original})
	if err != nil {
		d.session.SetPhase(core.PhaseIdle)
		return fmt.Errorf("dispatcher: segmentation failed: %w", err)
	}
	if !d.session.Alive() {
		return nil
	}
	if err := d.store.Apply(StatePatch{Cutout: &seg.Cutout}); err != nil {
		return err
	}

	d.session.SetPhase(core.PhaseSuggestionFetching)
	suggestions, err := d.port.SuggestScenes(ctx, genai.SuggestRequest{Cutout: seg.Cutout})
	if !d.session.Alive() {
		return nil
	}
	if err != nil {
		// Suggestions are free and best-effort; the flow continues.
		d.logger.Warn("Scene suggestions unavailable", zap.Error(err))
		if applyErr := d.store.Apply(LogEntry{
			Severity: SeverityWarn,
			Message:  "Scene suggestions are unavailable right now; you can still write your own prompts.",
		}); applyErr != nil {
			return applyErr
		}
	} else if err := d.store.Apply(StatePatch{Suggestions: suggestions}); err != nil {
		return err
	}

	d.session.SetPhase(core.PhaseAwaitingUserInput)
	return nil
}

// FetchSuggestions re-runs the best-effort suggestion call for the
// current cutout.
func (d *Dispatcher) FetchSuggestions(ctx context.Context) ([]core.SceneSuggestion, error) {
	state := d.store.State()
	if state.CutoutImage.IsZero() {
		return nil, core.NewValidationError("cutout_image", "upload and segment a photo first")
	}

	suggestions, err := d.port.SuggestScenes(ctx, genai.SuggestRequest{Cutout: state.CutoutImage})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: suggestion fetch failed: %w", err)
	}
	if !d.session.Alive() {
		return suggestions, nil
	}
	if err := d.store.Apply(StatePatch{Suggestions: suggestions}); err != nil {
		return nil, err
	}
	return suggestions, nil
}

// InitiateSimpleGenerate validates preconditions and produces the
// confirmation request for the current mode. No debit occurs here; the
// charged path runs only when the caller confirms.
//
// For group mode this includes the detection-only costing pass, reusing
// the memoized detection when the cutout hasn't changed since.
func (d *Dispatcher) InitiateSimpleGenerate(ctx context.Context) (*ConfirmationRequest, error) {
	state := d.store.State()
	if state.CutoutImage.IsZero() {
		return nil, core.NewValidationError("cutout_image", "upload and segment a photo first")
	}
	if state.BackgroundPrompt == "" {
		return nil, core.NewValidationError("background_prompt", "a background prompt is required")
	}
	if d.session.Phase() == core.PhaseRunning {
		return nil, core.ErrRunInProgress
	}

	var req ConfirmationRequest
	if state.IsGroupPhoto {
		subjects, err := d.resolveSubjects(ctx, state)
		if err != nil {
			return nil, err
		}

		cost := pipeline.GroupCost(d.pricing, len(subjects), state.ForegroundPrompt != "")
		req = ConfirmationRequest{
			Title: "Group photo remix",
			Message: fmt.Sprintf("Remix %d subjects and generate a new scene for %d credits?",
				len(subjects), cost),
			Cost:    cost,
			Action:  core.OpGroupRemix,
			Context: ConfirmationContext{Subjects: subjects},
		}
	} else {
		cost := pipeline.SingleCost(d.pricing)
		req = ConfirmationRequest{
			Title:   "Photo remix",
			Message: fmt.Sprintf("Generate your remixed photo for %d credits?", cost),
			Cost:    cost,
			Action:  core.OpSingleRemix,
		}
	}

	if err := d.store.Apply(req); err != nil {
		return nil, err
	}
	d.session.SetPhase(core.PhaseDispatched)
	return &req, nil
}

// ConfirmPending executes the pending confirmed action, if any.
func (d *Dispatcher) ConfirmPending(ctx context.Context) error {
	req := d.store.TakePending()
	if req == nil {
		return core.NewValidationError("confirmation", "no action is awaiting confirmation")
	}

	switch req.Action {
	case core.OpSingleRemix:
		return d.ExecuteSingleSubjectRemix(ctx)
	case core.OpGroupRemix:
		return d.ExecuteGroupPhotoRemix(ctx, req.Context.Subjects, req.Cost)
	case core.OpStepRemix, core.OpStepBackground, core.OpStepComposite:
		return d.ExecuteAdvancedRemixStep(ctx, req.Context.StepOperation)
	default:
		return fmt.Errorf("dispatcher: unknown confirmed action %q", req.Action)
	}
}

// CancelPending drops the pending confirmation without charging.
func (d *Dispatcher) CancelPending() {
	if d.store.TakePending() != nil {
		d.session.SetPhase(core.PhaseAwaitingUserInput)
		d.logger.Info("Pending action cancelled")
	}
}

// ExecuteSingleSubjectRemix is the confirmed single-mode execution path:
// debit, run the single pipeline, then either record the success or pair
// the failure with a refund and a failure record.
func (d *Dispatcher) ExecuteSingleSubjectRemix(ctx context.Context) error {
	state := d.store.State()
	cost := pipeline.SingleCost(d.pricing)

	return d.runCharged(ctx, chargedRun{
		operation: core.OpSingleRemix,
		cost:      cost,
		reason:    "Single photo remix",
		state:     state,
		execute: func(ctx context.Context) (core.ImageRef, pipeline.RunStats, error) {
			return d.runner.RunSingle(ctx, pipeline.SingleInput{
				Cutout:           state.CutoutImage,
				ForegroundPrompt: state.ForegroundPrompt,
				BackgroundPrompt: state.BackgroundPrompt,
				Settings:         d.settings,
			})
		},
	})
}

// ExecuteGroupPhotoRemix is the confirmed group-mode execution path. The
// subjects and cost come from the confirmation context so the charge is
// exactly what the user approved.
func (d *Dispatcher) ExecuteGroupPhotoRemix(ctx context.Context, subjects []core.DetectedSubject, cost int64) error {
	if len(subjects) == 0 {
		return core.ErrNoSubjectsDetected
	}
	state := d.store.State()

	return d.runCharged(ctx, chargedRun{
		operation: core.OpGroupRemix,
		cost:      cost,
		reason:    fmt.Sprintf("Group photo remix (%d subjects)", len(subjects)),
		subjects:  len(subjects),
		state:     state,
		execute: func(ctx context.Context) (core.ImageRef, pipeline.RunStats, error) {
			return d.runner.RunGroup(ctx, pipeline.GroupInput{
				Cutout:           state.CutoutImage,
				Subjects:         subjects,
				ForegroundPrompt: state.ForegroundPrompt,
				BackgroundPrompt: state.BackgroundPrompt,
				Settings:         d.settings,
			})
		},
	})
}

// ExecuteAdvancedRemixStep runs one advanced-mode step (foreground remix,
// background generation, or composite) as its own charged action.
func (d *Dispatcher) ExecuteAdvancedRemixStep(ctx context.Context, op core.OperationType) error {
	state := d.store.State()
	cost, err := pipeline.StepCost(d.pricing, op)
	if err != nil {
		return err
	}

	run := chargedRun{operation: op, cost: cost, state: state}
	switch op {
	case core.OpStepRemix:
		if state.CutoutImage.IsZero() {
			return core.NewValidationError("cutout_image", "upload and segment a photo first")
		}
		if state.ForegroundPrompt == "" {
			return core.NewValidationError("foreground_prompt", "a foreground prompt is required for a remix step")
		}
		run.reason = "Advanced step: foreground remix"
		run.execute = func(ctx context.Context) (core.ImageRef, pipeline.RunStats, error) {
			ref, err := d.port.RemixForeground(ctx, genai.RemixRequest{
				Cutout: state.CutoutImage,
				Prompt: state.ForegroundPrompt,
			})
			if err != nil {
				err = &pipeline.StageError{Stage: pipeline.StageRemix, Err: err}
			}
			return ref, pipeline.RunStats{ExternalCalls: 1}, err
		}
		run.applySuccess = func(ref core.ImageRef) StatePatch {
			return StatePatch{RemixedCutout: &ref}
		}

	case core.OpStepBackground:
		if state.BackgroundPrompt == "" {
			return core.NewValidationError("background_prompt", "a background prompt is required")
		}
		run.reason = "Advanced step: background generation"
		run.execute = func(ctx context.Context) (core.ImageRef, pipeline.RunStats, error) {
			ref, err := d.port.GenerateBackground(ctx, genai.BackgroundRequest{
				Prompt:   state.BackgroundPrompt,
				Settings: d.settings,
			})
			if err != nil {
				err = &pipeline.StageError{Stage: pipeline.StageBackground, Err: err}
			}
			return ref, pipeline.RunStats{ExternalCalls: 1}, err
		}
		run.applySuccess = func(ref core.ImageRef) StatePatch {
			return StatePatch{Background: &ref}
		}

	case core.OpStepComposite:
		foreground := state.RemixedCutoutImage
		if foreground.IsZero() {
			foreground = state.CutoutImage
		}
		if foreground.IsZero() {
			return core.NewValidationError("cutout_image", "upload and segment a photo first")
		}
		if state.GeneratedBackground.IsZero() {
			return core.NewValidationError("generated_background", "generate a background before compositing")
		}
		run.reason = "Advanced step: composite"
		run.execute = func(ctx context.Context) (core.ImageRef, pipeline.RunStats, error) {
			ref, err := d.port.CompositeImages(ctx, genai.CompositeRequest{
				Foreground: foreground,
				Background: state.GeneratedBackground,
				Settings:   d.settings,
			})
			if err != nil {
				err = &pipeline.StageError{Stage: pipeline.StageComposite, Err: err}
			}
			return ref, pipeline.RunStats{ExternalCalls: 1}, err
		}

	default:
		return fmt.Errorf("dispatcher: %q is not a step operation", op)
	}

	return d.runCharged(ctx, run)
}

// chargedRun is the per-run input of the debit/run/compensate saga.
type chargedRun struct {
	operation core.OperationType
	cost      int64
	reason    string
	subjects  int
	state     core.RemixState
	// execute runs the pipeline work after the debit has landed
	execute func(ctx context.Context) (core.ImageRef, pipeline.RunStats, error)
	// applySuccess optionally maps the produced image onto a state patch;
	// nil means the image is the final composite
	applySuccess func(ref core.ImageRef) StatePatch
}

// runCharged implements the saga shared by every costed path: pre-flight
// sufficiency check, debit, pipeline execution, then either a success
// record or the mandatory refund-plus-failure-record pair. The whole saga
// runs inside the run guard, so shutdown waits for a debit in flight to
// reach its outcome; a guard rejection happens before any charge.
//
// If the session was torn down while the run was in flight, all outcome
// writes are discarded. The debit stands: only an explicit failure path
// triggers a refund.
func (d *Dispatcher) runCharged(ctx context.Context, run chargedRun) error {
	if d.guard == nil {
		return d.executeCharged(ctx, run)
	}
	return d.guard(ctx, string(run.operation), func(ctx context.Context) error {
		return d.executeCharged(ctx, run)
	})
}

func (d *Dispatcher) executeCharged(ctx context.Context, run chargedRun) error {
	if d.session.Phase() == core.PhaseRunning {
		return core.ErrRunInProgress
	}
	if balance := d.store.Balance(); balance < run.cost {
		return &core.InsufficientCreditsError{Required: run.cost, Available: balance}
	}

	runID := uuid.NewString()
	metadata := map[string]string{
		"run_id":    runID,
		"operation": string(run.operation),
	}
	startedAt := time.Now()
	snapshot := snapshotSettings(run.state, run.subjects, d.settings)

	if err := d.store.Apply(BalanceChange{
		Amount:   -run.cost,
		Reason:   run.reason,
		Metadata: metadata,
	}); err != nil {
		return err
	}
	d.session.SetPhase(core.PhaseRunning)

	runCtx := ctx
	if d.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.runTimeout)
		defer cancel()
	}
	final, stats, runErr := run.execute(runCtx)

	if !d.session.Alive() {
		d.logger.Warn("Run outcome discarded for torn-down session",
			zap.String("run_id", runID))
		return nil
	}

	if runErr != nil {
		return d.compensate(runID, run, snapshot, startedAt, runErr)
	}

	patch := StatePatch{Final: &final}
	if run.applySuccess != nil {
		patch = run.applySuccess(final)
	}
	if err := d.store.Apply(patch); err != nil {
		return err
	}
	if err := d.store.Apply(ResultAppend{
		Result: results.NewSuccessResult(runID, run.operation, final,
			run.state.BackgroundPrompt, snapshot, run.cost, run.subjects, startedAt),
	}); err != nil {
		return err
	}
	d.session.SetPhase(core.PhaseCompleted)

	d.logger.Info("Run completed", logging.RunFields(logging.RunMetrics{
		RunID:         runID,
		Operation:     string(run.operation),
		Cost:          run.cost,
		SubjectCount:  stats.SubjectCount,
		ExternalCalls: stats.ExternalCalls,
		Duration:      time.Since(startedAt),
	}))
	return nil
}

// compensate pairs a charged-stage failure with its refund and failure
// record. The two writes always happen together.
func (d *Dispatcher) compensate(runID string, run chargedRun, snapshot core.SettingsSnapshot, startedAt time.Time, runErr error) error {
	pipeErr := &core.PipelineExecutionError{
		RunID:    runID,
		Category: core.NormalizeFailure(runErr),
		Stage:    stageOf(runErr),
		Err:      runErr,
	}

	metadata := map[string]string{
		"run_id":    runID,
		"operation": string(run.operation),
		"failure":   string(pipeErr.Category),
	}
	if err := d.store.Apply(BalanceChange{
		Amount:   run.cost,
		Reason:   fmt.Sprintf("Refund: %s failed (%s)", run.reason, pipeErr.Stage),
		Metadata: metadata,
	}); err != nil {
		return errors.Join(pipeErr, err)
	}
	if err := d.store.Apply(ResultAppend{
		Result: results.NewFailureResult(runID, run.operation,
			run.state.BackgroundPrompt, snapshot, run.cost, run.subjects,
			startedAt, pipeErr.UserMessage(), true),
	}); err != nil {
		return errors.Join(pipeErr, err)
	}
	d.session.SetPhase(core.PhaseFailed)

	d.logger.Error("Run failed and was refunded",
		zap.String("run_id", runID),
		zap.String("stage", pipeErr.Stage),
		zap.String("category", string(pipeErr.Category)),
		zap.Error(runErr))
	return pipeErr
}

// resolveSubjects returns the memoized detection for the current cutout,
// or runs the detection-only costing pass. Detection here is a critical
// uncharged stage: failures propagate and nothing is debited.
func (d *Dispatcher) resolveSubjects(ctx context.Context, state core.RemixState) ([]core.DetectedSubject, error) {
	if state.HasDetection() {
		d.logger.Debug("Reusing memoized detection",
			zap.Int("subjects", len(state.DetectedSubjects)))
		return state.DetectedSubjects, nil
	}

	subjects, err := d.port.DetectSubjects(ctx, genai.DetectRequest{Cutout: state.CutoutImage})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: subject detection failed: %w", err)
	}
	if len(subjects) == 0 {
		return nil, core.ErrNoSubjectsDetected
	}
	if err := d.store.Apply(StatePatch{Subjects: subjects}); err != nil {
		return nil, err
	}
	return subjects, nil
}

func snapshotSettings(state core.RemixState, subjects int, composition core.CompositionSettings) core.SettingsSnapshot {
	return core.SettingsSnapshot{
		BackgroundPrompt: state.BackgroundPrompt,
		ForegroundPrompt: state.ForegroundPrompt,
		IsGroupPhoto:     state.IsGroupPhoto,
		SubjectCount:     subjects,
		Composition:      composition,
		CapturedAt:       time.Now(),
	}
}

// stageOf extracts the failed stage name from a pipeline error.
func stageOf(err error) string {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return "pipeline"
}
