// Package groutine starts goroutines carrying a pprof name label so that
// worker, drain and transport goroutines are identifiable in profiles and
// stack dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

const labelKey = "goroutine_name"

// Go runs fn on a new goroutine labelled name. The returned channel is closed
// when fn returns. A nil parent is treated as context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parent == nil {
		parent = context.Background()
	}
	done := make(chan struct{})

	go pprof.Do(parent, pprof.Labels(labelKey, name), func(ctx context.Context) {
		defer close(done)
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
	return done
}

// Name returns the name given to Go for the goroutine owning ctx.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
