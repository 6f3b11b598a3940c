// Package db persists generation history.
//
// async_write.go implements the non-blocking history writer. Ledger and
// result sinks run on the dispatcher's call path, so persistence must
// never block a run; writes are queued onto a buffered channel and
// drained by a single background goroutine.
package db

import (
	"context"
	"sync"
	"time"
)

// DefaultChannelCapacity is the default buffer size for pending writes.
const DefaultChannelCapacity = 100

// WriteOperation is one queued history write.
type WriteOperation struct {
	// Data holds the write payload
	Data interface{}
	// Timestamp when the operation was queued
	Timestamp time.Time
}

// WriteHandler processes queued operations. Implementations handle their
// own error logging; a failed history write never propagates back to the
// run that produced it.
type WriteHandler func(op WriteOperation) error

// AsyncWriter provides non-blocking history persistence using a buffered
// channel and a single background goroutine.
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	mu        sync.Mutex
}

// NewAsyncWriter creates an async writer with the default buffer size.
func NewAsyncWriter(handler WriteHandler) *AsyncWriter {
	return NewAsyncWriterWithCapacity(handler, DefaultChannelCapacity)
}

// NewAsyncWriterWithCapacity creates an async writer with an explicit
// buffer size.
func NewAsyncWriterWithCapacity(handler WriteHandler, capacity int) *AsyncWriter {
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter{
		writeChan: make(chan WriteOperation, capacity),
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins background processing. Must be called before queued
// writes are handled; returns immediately.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.drainChannel()
			return
		case op, ok := <-w.writeChan:
			if !ok {
				return
			}
			_ = w.handler(op)
		}
	}
}

// drainChannel processes any operations still buffered at shutdown.
func (w *AsyncWriter) drainChannel() {
	for {
		select {
		case op, ok := <-w.writeChan:
			if !ok {
				return
			}
			_ = w.handler(op)
		default:
			return
		}
	}
}

// Write queues an operation without blocking. Returns false if the
// buffer is full; the caller decides whether a dropped history write
// matters.
func (w *AsyncWriter) Write(data interface{}) bool {
	op := WriteOperation{Data: data, Timestamp: time.Now()}
	select {
	case w.writeChan <- op:
		return true
	default:
		return false
	}
}

// Pending returns the number of operations waiting in the buffer.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

// Stop signals the goroutine to finish and waits for the buffer to drain.
func (w *AsyncWriter) Stop() {
	w.cancel()
	w.wg.Wait()
}

// StopWithTimeout stops the writer, waiting at most the given duration.
// Returns false if the drain timed out.
func (w *AsyncWriter) StopWithTimeout(timeout time.Duration) bool {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
