package worker

import (
	"context"
	"sync"
)

// Registry tracks cancel functions of in-flight sweeps so the API can stop them.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[string]context.CancelFunc)}
}

// Register records the cancel function of a running sweep.
func (r *Registry) Register(sweepID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[sweepID] = cancel
}

// Remove forgets a sweep once it stops.
func (r *Registry) Remove(sweepID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, sweepID)
}

// Cancel stops a running sweep. It reports false when the sweep is not running here.
func (r *Registry) Cancel(sweepID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[sweepID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether a sweep is currently executing.
func (r *Registry) Running(sweepID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[sweepID]
	return ok
}
