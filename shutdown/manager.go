package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"remix_backend/core"

	"go.uber.org/zap"
)

// Manager is the main shutdown coordination organism that composes:
//   - OperationTracker: tracks in-flight generation runs
//   - ShutdownRegistry: ordered cleanup functions
//   - SignalCounter: handles repeated signals for force shutdown
//
// Manager provides a unified interface for graceful shutdown management,
// coordinating context cancellation, run tracking, cleanup execution,
// and signal handling.
//
// Usage:
//
//	manager := NewManager(logger)
//	manager.Register("database", 30, func(ctx context.Context) error {
//	    return database.Close()
//	})
//	manager.Start()
//
//	// In run handlers:
//	err := manager.WrapOperation(ctx, "single-remix", func(ctx context.Context) error {
//	    return dispatcher.ExecuteSingleSubjectRemix(ctx)
//	})
//
//	manager.Wait()
//	manager.Shutdown()
//	os.Exit(manager.ExitCode())
type Manager struct {
	logger   *zap.Logger
	timeout  time.Duration
	mu       sync.Mutex
	started  bool
	shutdown bool
	exitCode int

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *ShutdownRegistry
	signals  *SignalCounter

	sigChan chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the shutdown timeout duration.
// Default is 60 seconds.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// NewManager creates a new Manager ready to coordinate graceful shutdown.
// The logger is required and used for all shutdown-related logging.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:   logger,
		timeout:  60 * time.Second,
		exitCode: core.ExitCodeSuccess,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewShutdownRegistry(),
		sigChan:  make(chan os.Signal, 1),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, func() {
		m.logger.Warn("Received second signal, forcing immediate shutdown")
		os.Exit(core.ExitCodeError)
	})

	return m
}

// Context returns the managed context that is cancelled during shutdown.
// Components should use it to detect when shutdown has been initiated.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup function to be called during shutdown.
// Lower priority values are executed first; see ShutdownRegistry for
// the priority convention.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("Registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// Start begins signal handling for SIGINT and SIGTERM. The first signal
// cancels the context for graceful shutdown and records the conventional
// exit code (130 for SIGINT, 143 for SIGTERM); a second signal forces
// immediate exit. Safe to call multiple times.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range m.sigChan {
			count := m.signals.Increment()
			if count == 1 {
				m.logger.Info("Received shutdown signal, initiating graceful shutdown",
					zap.String("signal", sig.String()),
				)
				m.recordSignalExit(sig)
				m.cancel()
			}
			// Force shutdown is handled by the SignalCounter callback
		}
	}()

	m.logger.Info("Shutdown manager started, listening for signals")
}

func (m *Manager) recordSignalExit(sig os.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch sig {
	case syscall.SIGTERM:
		m.exitCode = core.ExitCodeSIGTERM
	default:
		m.exitCode = core.ExitCodeSIGINT
	}
}

// ExitCode returns the exit code the process should terminate with:
// 0 for a clean stop, 130/143 when a signal initiated the shutdown.
func (m *Manager) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode
}

// Shutdown executes the graceful shutdown sequence:
//  1. Close the operation tracker to reject new runs
//  2. Wait for in-flight runs (with timeout)
//  3. Execute registered cleanup functions in priority order
//
// Shutdown is idempotent; subsequent calls are no-ops and return nil.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	m.mu.Unlock()

	startTime := time.Now()
	m.logger.Info("Initiating graceful shutdown",
		zap.Duration("timeout", m.timeout),
		zap.Int("registered_handlers", m.registry.Count()),
	)

	m.tracker.Close()
	m.logger.Info("Closed operation tracker, rejecting new runs")

	activeOps := m.tracker.ActiveCount()
	if activeOps > 0 {
		m.logger.Info("Waiting for in-flight runs",
			zap.Int64("active_count", activeOps),
		)
	}

	if err := m.tracker.Wait(m.timeout); err != nil {
		m.logger.Warn("Timeout waiting for in-flight runs",
			zap.Duration("waited", time.Since(startTime)),
			zap.Int64("remaining_ops", m.tracker.ActiveCount()),
		)
	} else {
		m.logger.Info("All in-flight runs completed")
	}

	elapsed := time.Since(startTime)
	remaining := m.timeout - elapsed
	if remaining < time.Second {
		remaining = time.Second // Minimum 1 second for cleanup
	}

	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	m.logger.Info("Executing cleanup functions",
		zap.Strings("handlers", m.registry.Names()),
	)

	errs := m.registry.Shutdown(ctx)

	for _, err := range errs {
		m.logger.Error("Cleanup function failed", zap.Error(err))
	}

	duration := time.Since(startTime)
	if len(errs) > 0 {
		m.logger.Error("Shutdown completed with errors",
			zap.Duration("duration", duration),
			zap.Int("error_count", len(errs)),
		)
		return fmt.Errorf("shutdown had %d errors", len(errs))
	}

	m.logger.Info("Graceful shutdown completed",
		zap.Duration("duration", duration),
	)

	signal.Stop(m.sigChan)
	close(m.sigChan)

	return nil
}

// Wait blocks until the managed context is cancelled.
func (m *Manager) Wait() {
	<-m.ctx.Done()
}

// WrapOperation executes a function while tracking it as an in-flight
// run. If the system is shutting down, ErrTrackerClosed is returned and
// the function is not executed.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		m.logger.Debug("Run rejected, system shutting down",
			zap.String("operation", name),
		)
		return ErrTrackerClosed
	}
	defer m.tracker.Done()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return context.Canceled
	default:
	}

	return fn(ctx)
}

// ActiveOperations returns the count of currently in-flight runs.
func (m *Manager) ActiveOperations() int64 {
	return m.tracker.ActiveCount()
}

// IsShuttingDown returns true if shutdown has been initiated.
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown || m.tracker.IsClosed()
}

// RegisteredHandlers returns the names of all registered cleanup
// handlers in priority order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}
