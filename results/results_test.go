package results

import (
	"testing"
	"time"

	"remix_backend/core"
)

func TestRecordSuccessAssignsIDAndDuration(t *testing.T) {
	r := NewRecorder()
	started := time.Now().Add(-250 * time.Millisecond)

	res := r.RecordSuccess("run-1", core.OpSingleRemix,
		core.ImageRef{ID: "img-1", Stage: core.StageComposite, Width: 1024, Height: 1024},
		"astronaut on mars", core.SettingsSnapshot{}, 10, 0, started)

	if res.ID == "" {
		t.Error("expected non-empty result ID")
	}
	if !res.Success {
		t.Error("Success = false, want true")
	}
	if res.DurationMs < 200 {
		t.Errorf("DurationMs = %d, want >= 200", res.DurationMs)
	}
	if res.Cost != 10 {
		t.Errorf("Cost = %d, want 10", res.Cost)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRecordFailureKeepsCostAndMessage(t *testing.T) {
	r := NewRecorder()

	res := r.RecordFailure("run-2", core.OpGroupRemix, "beach scene",
		core.SettingsSnapshot{}, 30, 3, time.Now(),
		"The image service is temporarily unavailable. Your credits have been refunded.", true)

	if res.Success {
		t.Error("Success = true, want false")
	}
	if !res.Refunded {
		t.Error("Refunded = false, want true")
	}
	if !res.Image.IsZero() {
		t.Error("failed result should carry a zero image")
	}
	if res.Cost != 30 || res.SubjectCount != 3 {
		t.Errorf("(Cost, SubjectCount) = (%d, %d), want (30, 3)", res.Cost, res.SubjectCount)
	}
	if res.ErrorMessage == "" {
		t.Error("expected a user-facing error message")
	}
}

func TestSnapshotIsIsolatedFromStore(t *testing.T) {
	r := NewRecorder()
	r.RecordSuccess("run-1", core.OpSingleRemix, core.ImageRef{ID: "img-1"}, "p",
		core.SettingsSnapshot{}, 10, 0, time.Now())

	snap := r.Snapshot()
	snap[0].Prompt = "tampered"
	snap[0].Success = false

	fresh := r.Snapshot()
	if fresh[0].Prompt != "p" || !fresh[0].Success {
		t.Error("mutating a snapshot altered the stored record")
	}
}

func TestSuccessesFiltersFailures(t *testing.T) {
	r := NewRecorder()
	r.RecordSuccess("run-1", core.OpSingleRemix, core.ImageRef{ID: "a"}, "p1",
		core.SettingsSnapshot{}, 10, 0, time.Now())
	r.RecordFailure("run-2", core.OpSingleRemix, "p2",
		core.SettingsSnapshot{}, 10, 0, time.Now(), "failed", true)
	r.RecordSuccess("run-3", core.OpGroupRemix, core.ImageRef{ID: "b"}, "p3",
		core.SettingsSnapshot{}, 30, 2, time.Now())

	succ := r.Successes()
	if len(succ) != 2 {
		t.Fatalf("Successes() returned %d, want 2", len(succ))
	}
	if succ[0].Image.ID != "a" || succ[1].Image.ID != "b" {
		t.Errorf("Successes() order = (%q, %q), want (a, b)", succ[0].Image.ID, succ[1].Image.ID)
	}
}

func TestForRunCorrelation(t *testing.T) {
	r := NewRecorder()
	r.RecordSuccess("run-1", core.OpSingleRemix, core.ImageRef{ID: "a"}, "p",
		core.SettingsSnapshot{}, 10, 0, time.Now())
	r.RecordFailure("run-2", core.OpSingleRemix, "p",
		core.SettingsSnapshot{}, 10, 0, time.Now(), "failed", true)

	got := r.ForRun("run-2")
	if len(got) != 1 {
		t.Fatalf("ForRun(run-2) returned %d, want 1", len(got))
	}
	if got[0].Success {
		t.Error("run-2 result should be a failure")
	}
}

func TestSinkReceivesAppendedResults(t *testing.T) {
	var seen []GeneratedResult
	r := NewRecorderWithSink(func(res GeneratedResult) {
		seen = append(seen, res)
	})

	r.RecordSuccess("run-1", core.OpSingleRemix, core.ImageRef{ID: "a"}, "p",
		core.SettingsSnapshot{}, 10, 0, time.Now())
	r.RecordFailure("run-2", core.OpSingleRemix, "p",
		core.SettingsSnapshot{}, 10, 0, time.Now(), "failed", false)

	if len(seen) != 2 {
		t.Fatalf("sink received %d results, want 2", len(seen))
	}
	if !seen[0].Success || seen[1].Success {
		t.Error("sink order should be (success, failure)")
	}
}
