package core

import "context"

// ShutdownFunc is the function signature for cleanup handlers during
// graceful shutdown. The context carries the shutdown deadline; handlers
// should abandon work and return when it is cancelled.
//
// Example:
//
//	var dbShutdown ShutdownFunc = func(ctx context.Context) error {
//	    return database.Close()
//	}
type ShutdownFunc func(ctx context.Context) error
