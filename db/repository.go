// Package db persists generation history.
//
// repository.go provides typed CRUD operations for the history tables:
// credit_transactions mirrors the in-memory ledger, generation_results
// mirrors the result collection.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"remix_backend/ledger"
	"remix_backend/results"
)

// CreditTransactionRecord is a row in the credit_transactions table.
type CreditTransactionRecord struct {
	ID            int64     // Auto-incremented primary key
	TransactionID string    // Ledger-assigned transaction ID
	Kind          string    // "deduction", "refund", or "grant"
	Amount        int64     // Signed credit delta
	BalanceBefore int64     // Balance immediately before
	BalanceAfter  int64     // Balance immediately after
	Reason        string    // Human-readable cause
	RunID         string    // Correlates a deduction with its refund
	Operation     string    // Operation type the charge belongs to
	CreatedAt     time.Time // Timestamp when the row was inserted
}

// GenerationResultRecord is a row in the generation_results table.
type GenerationResultRecord struct {
	ID           int64     // Auto-incremented primary key
	ResultID     string    // Recorder-assigned result ID
	RunID        string    // Run correlation ID
	Operation    string    // Operation type
	ImageID      string    // Final image reference ID ("" for failures)
	Prompt       string    // Effective background prompt
	Cost         int64     // Credits charged
	SubjectCount int       // Subjects processed (group runs)
	DurationMS   int64     // Wall-clock run duration
	Success      bool      // Whether a final image was produced
	ErrorMessage string    // User-facing failure explanation
	Refunded     bool      // Whether the charge was compensated
	CreatedAt    time.Time // Timestamp when the row was inserted
}

// NewTransactionRecord converts a ledger transaction into its history row.
func NewTransactionRecord(txn ledger.Transaction) CreditTransactionRecord {
	return CreditTransactionRecord{
		TransactionID: txn.ID,
		Kind:          string(txn.Kind),
		Amount:        txn.Amount,
		BalanceBefore: txn.BalanceBefore,
		BalanceAfter:  txn.BalanceAfter,
		Reason:        txn.Reason,
		RunID:         txn.Metadata["run_id"],
		Operation:     txn.Metadata["operation"],
	}
}

// NewResultRecord converts a generation result into its history row.
func NewResultRecord(res results.GeneratedResult) GenerationResultRecord {
	return GenerationResultRecord{
		ResultID:     res.ID,
		RunID:        res.RunID,
		Operation:    string(res.Operation),
		ImageID:      res.Image.ID,
		Prompt:       res.Prompt,
		Cost:         res.Cost,
		SubjectCount: res.SubjectCount,
		DurationMS:   res.DurationMs,
		Success:      res.Success,
		ErrorMessage: res.ErrorMessage,
		Refunded:     res.Refunded,
	}
}

// Repository provides history table operations. With an AsyncWriter
// configured, inserts are queued for background processing; without one
// they run synchronously.
type Repository struct {
	conn        *sql.DB
	asyncWriter *AsyncWriter
}

// NewRepository creates a Repository. asyncWriter may be nil for fully
// synchronous writes.
func NewRepository(conn *sql.DB, asyncWriter *AsyncWriter) *Repository {
	return &Repository{conn: conn, asyncWriter: asyncWriter}
}

// InsertCreditTransaction persists a transaction row synchronously.
func (r *Repository) InsertCreditTransaction(ctx context.Context, record CreditTransactionRecord) (int64, error) {
	if r.conn == nil {
		return 0, fmt.Errorf("db: database connection is nil")
	}

	result, err := r.conn.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			transaction_id, kind, amount, balance_before, balance_after,
			reason, run_id, operation
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.TransactionID, record.Kind, record.Amount,
		record.BalanceBefore, record.BalanceAfter,
		record.Reason, nullString(record.RunID), nullString(record.Operation),
	)
	if err != nil {
		return 0, fmt.Errorf("db: failed to insert credit transaction: %w", err)
	}
	return result.LastInsertId()
}

// InsertGenerationResult persists a result row synchronously.
func (r *Repository) InsertGenerationResult(ctx context.Context, record GenerationResultRecord) (int64, error) {
	if r.conn == nil {
		return 0, fmt.Errorf("db: database connection is nil")
	}

	result, err := r.conn.ExecContext(ctx, `
		INSERT INTO generation_results (
			result_id, run_id, operation, image_id, prompt, cost,
			subject_count, duration_ms, success, error_message, refunded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ResultID, record.RunID, record.Operation,
		nullString(record.ImageID), record.Prompt, record.Cost,
		record.SubjectCount, record.DurationMS, record.Success,
		nullString(record.ErrorMessage), record.Refunded,
	)
	if err != nil {
		return 0, fmt.Errorf("db: failed to insert generation result: %w", err)
	}
	return result.LastInsertId()
}

// QueueTransaction queues a transaction row for async insertion. Falls
// back to a synchronous insert when no async writer is configured.
func (r *Repository) QueueTransaction(record CreditTransactionRecord) bool {
	if r.asyncWriter == nil {
		_, err := r.InsertCreditTransaction(context.Background(), record)
		return err == nil
	}
	return r.asyncWriter.Write(record)
}

// QueueResult queues a result row for async insertion.
func (r *Repository) QueueResult(record GenerationResultRecord) bool {
	if r.asyncWriter == nil {
		_, err := r.InsertGenerationResult(context.Background(), record)
		return err == nil
	}
	return r.asyncWriter.Write(record)
}

// CreateAsyncWriteHandler returns the WriteHandler that routes queued
// payloads to the right insert.
func (r *Repository) CreateAsyncWriteHandler() WriteHandler {
	return func(op WriteOperation) error {
		switch record := op.Data.(type) {
		case CreditTransactionRecord:
			_, err := r.InsertCreditTransaction(context.Background(), record)
			return err
		case GenerationResultRecord:
			_, err := r.InsertGenerationResult(context.Background(), record)
			return err
		default:
			return fmt.Errorf("db: unknown async write payload %T", op.Data)
		}
	}
}

// QueryRecentResults returns the most recent result rows, newest first.
func (r *Repository) QueryRecentResults(ctx context.Context, limit int) ([]GenerationResultRecord, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("db: database connection is nil")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, result_id, run_id, operation, COALESCE(image_id, ''),
			prompt, cost, subject_count, duration_ms, success,
			COALESCE(error_message, ''), refunded, created_at
		FROM generation_results
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to query recent results: %w", err)
	}
	defer rows.Close()

	var records []GenerationResultRecord
	for rows.Next() {
		var rec GenerationResultRecord
		if err := rows.Scan(
			&rec.ID, &rec.ResultID, &rec.RunID, &rec.Operation, &rec.ImageID,
			&rec.Prompt, &rec.Cost, &rec.SubjectCount, &rec.DurationMS,
			&rec.Success, &rec.ErrorMessage, &rec.Refunded, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("db: failed to scan result row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// QueryTransactionsByRun returns all transaction rows for a run, oldest
// first, so the deduction/refund pairing can be inspected.
func (r *Repository) QueryTransactionsByRun(ctx context.Context, runID string) ([]CreditTransactionRecord, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("db: database connection is nil")
	}

	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, transaction_id, kind, amount, balance_before, balance_after,
			reason, COALESCE(run_id, ''), COALESCE(operation, ''), created_at
		FROM credit_transactions
		WHERE run_id = ?
		ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("db: failed to query transactions by run: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// UnpairedDeductions returns deductions whose run has neither a refund
// nor a successful result. These are the candidates left behind by a
// crash between debit and outcome; surfacing them is the recovery seam.
func (r *Repository) UnpairedDeductions(ctx context.Context) ([]CreditTransactionRecord, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("db: database connection is nil")
	}

	rows, err := r.conn.QueryContext(ctx, `
		SELECT t.id, t.transaction_id, t.kind, t.amount, t.balance_before,
			t.balance_after, t.reason, COALESCE(t.run_id, ''),
			COALESCE(t.operation, ''), t.created_at
		FROM credit_transactions t
		WHERE t.kind = 'deduction'
		  AND t.run_id IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM credit_transactions c
			WHERE c.run_id = t.run_id AND c.kind = 'refund'
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM generation_results g
			WHERE g.run_id = t.run_id AND g.success = 1
		  )
		ORDER BY t.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("db: failed to query unpaired deductions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// CountTransactions returns the number of persisted transaction rows.
func (r *Repository) CountTransactions(ctx context.Context) (int64, error) {
	var count int64
	err := r.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM credit_transactions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db: failed to count transactions: %w", err)
	}
	return count, nil
}

// CountResults returns the number of persisted result rows.
func (r *Repository) CountResults(ctx context.Context) (int64, error) {
	var count int64
	err := r.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM generation_results").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db: failed to count results: %w", err)
	}
	return count, nil
}

func scanTransactions(rows *sql.Rows) ([]CreditTransactionRecord, error) {
	var records []CreditTransactionRecord
	for rows.Next() {
		var rec CreditTransactionRecord
		if err := rows.Scan(
			&rec.ID, &rec.TransactionID, &rec.Kind, &rec.Amount,
			&rec.BalanceBefore, &rec.BalanceAfter, &rec.Reason,
			&rec.RunID, &rec.Operation, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("db: failed to scan transaction row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// nullString maps "" to NULL for nullable text columns.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
