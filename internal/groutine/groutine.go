package groutine

import (
	"context"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a named goroutine. The name is attached as a pprof label and can be
// read back from the context with GetName, which makes the desk monitor, relay and
// server loops easy to tell apart in goroutine dumps.
//
//	groutine.Go(ctx, "desk-link-monitor", func(ctx context.Context) {
//	    <-ctx.Done()
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GoSafe is Go with panic recovery: a panic inside fn is logged instead of
// crashing the process. Used for goroutines that run caller-supplied callbacks.
func GoSafe(parentCtx context.Context, name string, logger *logrus.Logger, fn func(ctx context.Context)) {
	Go(parentCtx, name, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil && logger != nil {
				logger.WithFields(logrus.Fields{
					"goroutine": name,
					"panic":     r,
				}).Error("Goroutine panicked")
			}
		}()
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
