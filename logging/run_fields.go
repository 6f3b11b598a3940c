// Package logging provides structured logging utilities for the remix
// backend. This file contains helpers that turn generation-run metrics into
// ready-to-use zap fields.
package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunMetrics captures the measurable outcome of one generation run.
// Implements zapcore.ObjectMarshaler for structured logging.
type RunMetrics struct {
	// RunID correlates log entries with ledger transactions and results
	RunID string `json:"run_id"`

	// Operation is the attempt kind (single_remix, group_remix, step_*)
	Operation string `json:"operation"`

	// Cost is the credit cost debited for the run
	Cost int64 `json:"cost"`

	// SubjectCount is the number of detected subjects (0 for single runs)
	SubjectCount int `json:"subject_count"`

	// ExternalCalls is the number of external service calls issued
	ExternalCalls int `json:"external_calls"`

	// Duration is the total wall time of the run
	Duration time.Duration `json:"duration"`

	// Refunded reports whether the run failed and was compensated
	Refunded bool `json:"refunded"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
// Duration is encoded in milliseconds for readability.
func (m RunMetrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("run_id", m.RunID)
	enc.AddString("operation", m.Operation)
	enc.AddInt64("cost", m.Cost)
	enc.AddInt("subject_count", m.SubjectCount)
	enc.AddInt("external_calls", m.ExternalCalls)
	enc.AddInt64("duration_ms", m.Duration.Milliseconds())
	enc.AddBool("refunded", m.Refunded)
	return nil
}

// RunFields creates a structured zap field from run metrics.
//
// Example:
//
//	logger.Info("run complete", logging.RunFields(metrics))
func RunFields(metrics RunMetrics) zap.Field {
	return zap.Object("run", metrics)
}

// CreditFields creates a slice of zap fields for a balance change.
//
// Example:
//
//	logger.Info("credits debited", logging.CreditFields(-10, 100, 90)...)
func CreditFields(amount, balanceBefore, balanceAfter int64) []zap.Field {
	return []zap.Field{
		zap.Int64("amount", amount),
		zap.Int64("balance_before", balanceBefore),
		zap.Int64("balance_after", balanceAfter),
	}
}

// TimingFields creates a slice of zap fields for stage timing.
func TimingFields(startTime, endTime time.Time) []zap.Field {
	return []zap.Field{
		zap.Time("start_time", startTime),
		zap.Time("end_time", endTime),
		zap.Duration("duration", endTime.Sub(startTime)),
	}
}
