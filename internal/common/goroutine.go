// -----------------------------------------------------------------------
// Safe Goroutines - panic-isolated goroutine spawning
// -----------------------------------------------------------------------

package common

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// spawnedCount and recoveredCount track goroutines started through SafeGo
// and the panics absorbed in them, for diagnostics and tests.
var (
	spawnedCount   int64
	recoveredCount int64
)

// GetGoroutineCount returns how many goroutines were spawned via SafeGo /
// SafeGoWithContext since process start.
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&spawnedCount)
}

// GetRecoveredPanicCount returns how many goroutine panics have been
// absorbed since process start.
func GetRecoveredPanicCount() int64 {
	return atomic.LoadInt64(&recoveredCount)
}

// SafeGo runs fn on its own goroutine, absorbing any panic so one bad
// cleanup sweep or event handler cannot take the process down. The panic
// and its stack are logged and the process keeps serving.
//
//	common.SafeGo(logger, "job-cache-cleanup", func() {
//	    orchestrator.cleanupExpired(ctx)
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&spawnedCount, 1)
	go func() {
		defer recoverGoroutine(logger, name)
		fn()
	}()
}

// SafeGoWithContext is SafeGo for work that must not start once ctx is
// already cancelled (a job resumed mid-shutdown, for example). Observing
// cancellation after fn starts is fn's own responsibility.
func SafeGoWithContext(ctx context.Context, logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&spawnedCount, 1)
	go func() {
		defer recoverGoroutine(logger, name)
		if ctx.Err() != nil {
			if logger != nil {
				logger.Debug().Str("goroutine", name).Msg("goroutine cancelled before start")
			}
			return
		}
		fn()
	}()
}

// recoverGoroutine is the shared deferred handler: log the panic with its
// stack, bump the counter, never exit.
func recoverGoroutine(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}
	atomic.AddInt64(&recoveredCount, 1)

	stack := CurrentStack()
	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stack).
			Msg("goroutine panic recovered")
		return
	}
	fmt.Fprintf(os.Stderr, "panic in goroutine %s: %v\n%s\n", name, r, stack)
}
