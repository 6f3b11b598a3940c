// Package dispatcher drives the Photo Remix workflow.
//
// store.go implements the host state container. The store is the sole
// writer of durable state: every mutation arrives as a Message and is
// applied to each concern's transition in a fixed sequence. Single-writer
// discipline is enforced by construction (one dispatcher per session
// feeding one store), not by locking.
package dispatcher

import (
	"fmt"

	"go.uber.org/zap"

	"remix_backend/core"
	"remix_backend/ledger"
	"remix_backend/logging"
	"remix_backend/results"
)

// Store is the host state container: the credit ledger, the result
// collection, the session's remix state, and the pending confirmation
// slot, all mutated exclusively through Apply.
type Store struct {
	session  *core.RemixSession
	ledger   *ledger.Ledger
	recorder *results.Recorder
	logger   *logging.Logger
	pending  *ConfirmationRequest
}

// NewStore creates the host state container.
func NewStore(session *core.RemixSession, l *ledger.Ledger, r *results.Recorder, logger *logging.Logger) (*Store, error) {
	if session == nil {
		return nil, fmt.Errorf("dispatcher: session cannot be nil")
	}
	if l == nil {
		return nil, fmt.Errorf("dispatcher: ledger cannot be nil")
	}
	if r == nil {
		return nil, fmt.Errorf("dispatcher: recorder cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("dispatcher: logger cannot be nil")
	}
	return &Store{
		session:  session,
		ledger:   l,
		recorder: r,
		logger:   logger.Named("store"),
	}, nil
}

// Apply routes a message through every concern's transition in sequence.
// State patches are gated on session liveness: a torn-down session
// silently discards them, while ledger entries always land (a debit
// against a torn-down session is not rescinded).
func (s *Store) Apply(msg Message) error {
	if txn, applied, err := ApplyToLedger(s.ledger, msg); err != nil {
		return err
	} else if applied {
		s.logger.Info("Ledger transaction applied",
			zap.String("transaction_id", txn.ID),
			zap.String("kind", string(txn.Kind)),
			zap.String("reason", txn.Reason))
		s.logger.Debug("Balance updated", logging.CreditFields(txn.Amount, txn.BalanceBefore, txn.BalanceAfter)...)
	}

	if patch, ok := msg.(StatePatch); ok {
		if !s.session.Update(func(state *core.RemixState) {
			ApplyToState(state, patch)
		}) {
			s.logger.Warn("State patch discarded for torn-down session")
		}
	}

	ApplyToResults(s.recorder, msg)

	switch m := msg.(type) {
	case LogEntry:
		switch m.Severity {
		case SeverityError:
			s.logger.Error(m.Message)
		case SeverityWarn:
			s.logger.Warn(m.Message)
		default:
			s.logger.Info(m.Message)
		}
	case ConfirmationRequest:
		s.pending = &m
		s.logger.Info("Confirmation requested",
			zap.String("action", string(m.Action)),
			zap.Int64("cost", m.Cost))
	}
	return nil
}

// Balance returns the current credit balance.
func (s *Store) Balance() int64 {
	return s.ledger.Balance()
}

// Transactions returns the transaction log snapshot.
func (s *Store) Transactions() []ledger.Transaction {
	return s.ledger.Transactions()
}

// Results returns the recorded results snapshot.
func (s *Store) Results() []results.GeneratedResult {
	return s.recorder.Snapshot()
}

// State returns a copy of the session's remix state.
func (s *Store) State() core.RemixState {
	return s.session.State()
}

// Pending returns the pending confirmation request, if any.
func (s *Store) Pending() *ConfirmationRequest {
	return s.pending
}

// TakePending removes and returns the pending confirmation request.
func (s *Store) TakePending() *ConfirmationRequest {
	p := s.pending
	s.pending = nil
	return p
}
