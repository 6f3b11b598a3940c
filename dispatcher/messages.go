// Package dispatcher drives the Photo Remix workflow: upload handling,
// pre-flight checks, user confirmation, and the debit/run/refund saga
// around the pipelines.
//
// messages.go defines the closed set of messages the dispatcher emits to
// its host store, and the pure transition function for each concern. A
// concern's transition ignores message variants it does not handle, so
// the store can apply every message to every concern in sequence.
package dispatcher

import (
	"fmt"

	"remix_backend/core"
	"remix_backend/ledger"
	"remix_backend/results"
)

// Message is one dispatch-contract message. The variant set is closed;
// the host store is the only consumer.
type Message interface {
	isMessage()
}

// Severity grades a LogEntry.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// BalanceChange adjusts the credit balance. Negative amounts are
// deductions, positive amounts are credits.
type BalanceChange struct {
	Amount   int64
	Reason   string
	Metadata map[string]string
}

// LogEntry surfaces a user-visible event (e.g., a degraded suggestion
// fetch) without changing any state.
type LogEntry struct {
	Severity Severity
	Message  string
}

// StatePatch partially updates the RemixState. Nil pointer fields are
// left untouched; the patch helpers below encode the invalidation rules
// that go with each field.
type StatePatch struct {
	// Reset clears the whole state before other fields apply
	Reset bool
	// ClearFinal discards the terminal artifact
	ClearFinal bool

	Original         *core.ImageRef
	Cutout           *core.ImageRef
	RemixedCutout    *core.ImageRef
	Background       *core.ImageRef
	Final            *core.ImageRef
	Suggestions      []core.SceneSuggestion
	Subjects         []core.DetectedSubject
	BackgroundPrompt *string
	ForegroundPrompt *string
	IsGroupPhoto     *bool
}

// ConfirmationRequest asks the user to approve a costed action before
// any debit occurs. Context carries everything the confirmed execution
// path needs so it never recomputes cost.
type ConfirmationRequest struct {
	Title   string
	Message string
	Cost    int64
	Action  core.OperationType
	Context ConfirmationContext
}

// ConfirmationContext is the frozen input of a pending costed action.
type ConfirmationContext struct {
	// Subjects is the detection result a group confirmation was costed on
	Subjects []core.DetectedSubject
	// StepOperation is set for advanced-mode step confirmations
	StepOperation core.OperationType
}

// ResultAppend appends a finished run's record to the result collection.
type ResultAppend struct {
	Result results.GeneratedResult
}

func (BalanceChange) isMessage()       {}
func (LogEntry) isMessage()            {}
func (StatePatch) isMessage()          {}
func (ConfirmationRequest) isMessage() {}
func (ResultAppend) isMessage()        {}

// ApplyToLedger is the ledger concern's transition. Only BalanceChange
// is handled; everything else passes through untouched. The appended
// transaction is returned for logging.
func ApplyToLedger(l *ledger.Ledger, msg Message) (ledger.Transaction, bool, error) {
	change, ok := msg.(BalanceChange)
	if !ok {
		return ledger.Transaction{}, false, nil
	}

	switch {
	case change.Amount < 0:
		txn, err := l.Debit(-change.Amount, change.Reason, change.Metadata)
		return txn, true, err
	case change.Amount > 0:
		txn, err := l.Credit(change.Amount, change.Reason, change.Metadata)
		return txn, true, err
	default:
		return ledger.Transaction{}, false, fmt.Errorf("dispatcher: balance change amount cannot be zero")
	}
}

// ApplyToState is the state concern's transition. Only StatePatch is
// handled. Field-specific invalidation (detection memo, stale final
// image) is delegated to the RemixState helpers so the rules live in one
// place.
func ApplyToState(s *core.RemixState, msg Message) bool {
	patch, ok := msg.(StatePatch)
	if !ok {
		return false
	}

	if patch.Reset {
		s.Reset()
	}
	if patch.Original != nil {
		s.OriginalImage = *patch.Original
	}
	if patch.Cutout != nil {
		s.SetCutout(*patch.Cutout)
	}
	if patch.RemixedCutout != nil {
		s.RemixedCutoutImage = *patch.RemixedCutout
		s.ClearFinal()
	}
	if patch.Background != nil {
		s.GeneratedBackground = *patch.Background
		s.ClearFinal()
	}
	if patch.Suggestions != nil {
		s.SceneSuggestions = patch.Suggestions
	}
	if patch.Subjects != nil {
		s.DetectedSubjects = patch.Subjects
	}
	if patch.BackgroundPrompt != nil || patch.ForegroundPrompt != nil {
		bg, fg := s.BackgroundPrompt, s.ForegroundPrompt
		if patch.BackgroundPrompt != nil {
			bg = *patch.BackgroundPrompt
		}
		if patch.ForegroundPrompt != nil {
			fg = *patch.ForegroundPrompt
		}
		s.SetPrompts(bg, fg)
	}
	if patch.IsGroupPhoto != nil {
		s.IsGroupPhoto = *patch.IsGroupPhoto
	}
	if patch.ClearFinal {
		s.ClearFinal()
	}
	// Final applies last so a patch can both invalidate and set it.
	if patch.Final != nil {
		s.FinalImage = *patch.Final
	}
	return true
}

// ApplyToResults is the result-collection concern's transition. Only
// ResultAppend is handled.
func ApplyToResults(r *results.Recorder, msg Message) bool {
	appendMsg, ok := msg.(ResultAppend)
	if !ok {
		return false
	}
	r.Append(appendMsg.Result)
	return true
}
