// Package runtime provides panic-safe goroutine helpers. Every background
// task in the orchestrator is launched through SafeGo so a panicking worker
// cannot take the process down with it.
package runtime

import (
	"context"
	"runtime/debug"

	"github.com/meridian-commerce/orchestrator/log"
)

// PanicPolicy controls what happens after a panic has been recovered and logged.
type PanicPolicy int

const (
	// KeepRunning swallows the panic after logging it.
	KeepRunning PanicPolicy = iota

	// CrashProcess re-panics after logging, crashing the process.
	CrashProcess
)

// Recover recovers from a panic, logs it with the stack trace, and continues
// execution. Use in defer statements for handlers and workers.
//
//	defer runtime.Recover(ctx, logger, "saga", "registration_join")
func Recover(ctx context.Context, logger log.Logger, component, name string) {
	if recovered := recover(); recovered != nil {
		logPanic(ctx, logger, component, name, recovered)
	}
}

// RecoverWithPolicy recovers from a panic and handles it according to policy.
func RecoverWithPolicy(ctx context.Context, logger log.Logger, component, name string, policy PanicPolicy) {
	if recovered := recover(); recovered != nil {
		logPanic(ctx, logger, component, name, recovered)

		if policy == CrashProcess {
			panic(recovered)
		}
	}
}

// HandlePanicValue logs a panic value that was already recovered by an
// external mechanism, without calling recover itself.
func HandlePanicValue(ctx context.Context, logger log.Logger, recovered any, component, name string) {
	if recovered == nil {
		return
	}

	logPanic(ctx, logger, component, name, recovered)
}

// SafeGo runs fn in a new goroutine with panic recovery. The goroutine keeps
// the process alive on panic; the panic is logged with its stack trace.
func SafeGo(ctx context.Context, logger log.Logger, component, name string, fn func(context.Context)) {
	go func() {
		defer Recover(ctx, logger, component, name)

		fn(ctx)
	}()
}

func logPanic(ctx context.Context, logger log.Logger, component, name string, recovered any) {
	if logger == nil {
		return
	}

	logger.Log(ctx, log.LevelError, "panic recovered",
		log.String("component", component),
		log.String("goroutine", name),
		log.Any("panic", recovered),
		log.String("stack", string(debug.Stack())),
	)
}
