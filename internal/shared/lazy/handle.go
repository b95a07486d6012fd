// Package lazy provides a guarded one-shot initializer for expensive shared resources.
package lazy

import (
	"context"
	"sync"
	"time"

	"rca-backend/internal/shared/telemetry"
)

// Handle builds a value on first use and hands the same value to every later caller.
// Concurrent first callers wait for the single in-flight build or for their own
// ctx. A failed or panicking build is not cached: the next caller tries again.
type Handle[T any] struct {
	name  string
	build func(context.Context) (T, error)

	mu    sync.Mutex
	value T
	ready bool
	// inFly is non-nil while a build runs and is closed when it ends.
	inFly chan struct{}
}

// New returns a handle that runs build at most once successfully.
func New[T any](name string, build func(context.Context) (T, error)) *Handle[T] {
	return &Handle[T]{name: name, build: build}
}

// Get returns the built value, building it if needed.
func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	for {
		h.mu.Lock()
		if h.ready {
			v := h.value
			h.mu.Unlock()
			return v, nil
		}
		if wait := h.inFly; wait != nil {
			h.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			}
		}
		done := make(chan struct{})
		h.inFly = done
		h.mu.Unlock()
		return h.run(ctx, done)
	}
}

func (h *Handle[T]) run(ctx context.Context, done chan struct{}) (v T, err error) {
	started := time.Now()
	returned := false
	defer func() {
		h.mu.Lock()
		if returned && err == nil {
			h.value = v
			h.ready = true
		}
		h.inFly = nil
		close(done)
		h.mu.Unlock()
	}()

	v, err = h.build(ctx)
	returned = true
	if err != nil {
		var zero T
		return zero, err
	}
	telemetry.Info("lazy.init.complete", map[string]any{
		"resource":    h.name,
		"duration_ms": float64(time.Since(started).Microseconds()) / 1000.0,
	})
	return v, nil
}

// Ready reports whether a value has been built.
func (h *Handle[T]) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}
