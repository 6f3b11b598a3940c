// Package ledger implements the credit account backing all cost-bearing
// remix actions: an authoritative balance plus an append-only transaction
// log with before/after balances on every entry.
//
// The ledger itself never refuses a debit for lack of funds; negative-
// balance prevention is the dispatcher's pre-flight responsibility. What
// the ledger does guarantee is the arithmetic invariant on every appended
// transaction: balanceAfter = balanceBefore + amount, with amount negative
// for deductions.
package ledger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	// KindDeduction is a charge for a cost-bearing action (negative amount)
	KindDeduction TransactionKind = "deduction"
	// KindRefund is a compensating credit after a charged-stage failure
	KindRefund TransactionKind = "refund"
	// KindGrant is a credit that is not tied to a prior deduction
	KindGrant TransactionKind = "grant"
)

// Transaction is one immutable entry in the append-only log.
type Transaction struct {
	// ID is the unique transaction identifier
	ID string `json:"id"`
	// Timestamp is when the transaction was appended
	Timestamp time.Time `json:"timestamp"`
	// Kind is deduction, refund, or grant
	Kind TransactionKind `json:"kind"`
	// Amount is the signed credit delta (negative for deductions)
	Amount int64 `json:"amount"`
	// BalanceBefore is the balance immediately before this transaction
	BalanceBefore int64 `json:"balance_before"`
	// BalanceAfter is BalanceBefore + Amount
	BalanceAfter int64 `json:"balance_after"`
	// Reason is the human-readable cause (e.g., "Group photo remix (3 subjects)")
	Reason string `json:"reason"`
	// Metadata carries correlation data such as the run ID
	Metadata map[string]string `json:"metadata,omitempty"`
}

// JournalSink receives every appended transaction, in append order.
// Used to feed the asynchronous history writer; a nil sink is allowed.
type JournalSink func(Transaction)

// Ledger is the process-wide credit account. It is safe for concurrent
// reads; writes are expected to arrive through the dispatcher's single
// serialized channel, but the internal mutex keeps the log consistent
// even if that discipline is violated.
type Ledger struct {
	mu           sync.RWMutex
	transactions []Transaction
	endowment    int64
	journal      JournalSink
}

// New creates a Ledger with the given initial endowment and no transactions.
// The balance of a fresh ledger equals the endowment.
func New(initialCredits int64) *Ledger {
	return &Ledger{endowment: initialCredits}
}

// NewWithJournal creates a Ledger that forwards every appended transaction
// to the given sink.
func NewWithJournal(initialCredits int64, journal JournalSink) *Ledger {
	return &Ledger{endowment: initialCredits, journal: journal}
}

// Balance returns the current balance in O(1): the balanceAfter of the most
// recent transaction, or the initial endowment if the log is empty.
func (l *Ledger) Balance() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked()
}

func (l *Ledger) balanceLocked() int64 {
	if len(l.transactions) == 0 {
		return l.endowment
	}
	return l.transactions[len(l.transactions)-1].BalanceAfter
}

// Debit appends a deduction of the given positive amount and returns the
// new transaction. The stored amount is negated.
//
// Debit does not check the balance; a direct call can take the account
// negative. The pre-flight sufficiency check belongs to the dispatcher.
func (l *Ledger) Debit(amount int64, reason string, metadata map[string]string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("ledger: debit amount must be positive, got %d", amount)
	}
	return l.append(KindDeduction, -amount, reason, metadata)
}

// Credit appends a positive credit and returns the new transaction. The
// entry is classified as a grant when the reason denotes one (a reason
// beginning with "grant", case-insensitive); otherwise it is a refund.
func (l *Ledger) Credit(amount int64, reason string, metadata map[string]string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("ledger: credit amount must be positive, got %d", amount)
	}

	kind := KindRefund
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(reason)), "grant") {
		kind = KindGrant
	}
	return l.append(kind, amount, reason, metadata)
}

// append is the single writer path for the transaction log.
func (l *Ledger) append(kind TransactionKind, amount int64, reason string, metadata map[string]string) (Transaction, error) {
	l.mu.Lock()

	before := l.balanceLocked()
	txn := Transaction{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  before + amount,
		Reason:        reason,
		Metadata:      copyMetadata(metadata),
	}
	l.transactions = append(l.transactions, txn)
	journal := l.journal

	l.mu.Unlock()

	if journal != nil {
		journal(txn)
	}
	return txn, nil
}

// Transactions returns a snapshot copy of the full transaction log in
// append order. The log itself is never mutated or reordered.
func (l *Ledger) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Transaction, len(l.transactions))
	copy(out, l.transactions)
	return out
}

// TransactionsForRun returns the transactions whose metadata carries the
// given run ID, in append order. Used to verify deduction/refund pairing.
func (l *Ledger) TransactionsForRun(runID string) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Transaction
	for _, txn := range l.transactions {
		if txn.Metadata["run_id"] == runID {
			out = append(out, txn)
		}
	}
	return out
}

// Len returns the number of appended transactions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.transactions)
}

// copyMetadata defensively copies the caller's map so later mutation never
// alters an appended transaction.
func copyMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
