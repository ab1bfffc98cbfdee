// Package health aggregates per-subsystem readiness probes.
package health

import (
	"context"
	"sync"
)

// Status is one subsystem's answer to a probe.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single subsystem.
type Checker func(ctx context.Context) Status

// Registry runs registered checkers on demand. Checkers run concurrently,
// so one slow dependency cannot starve the rest of the probe.
type Registry struct {
	mu       sync.RWMutex
	names    []string
	checkers map[string]Checker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a checker under name. Re-registering a name replaces the
// previous checker but keeps its position in the result order.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checkers[name]; !ok {
		r.names = append(r.names, name)
	}
	r.checkers[name] = check
}

// CheckAll probes every subsystem and reports whether all are healthy.
// Results come back in registration order.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	checks := make([]Checker, len(names))
	for i, n := range names {
		checks[i] = r.checkers[n]
	}
	r.mu.RUnlock()

	statuses := make([]Status, len(names))
	var wg sync.WaitGroup
	wg.Add(len(names))
	for i := range names {
		go func(i int) {
			defer wg.Done()
			statuses[i] = checks[i](ctx)
		}(i)
	}
	wg.Wait()

	healthy := true
	for _, st := range statuses {
		if !st.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}
