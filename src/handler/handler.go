// Package handler implements the operator handler registry:
// process-wide, query-scoped state containers referenced by pipelines
// through an integer handler index, so operators never hold direct
// pointers into each other's state.
package handler

import (
	"fmt"
	"sync"

	"github.com/nebulastream/runtime/src/termination"
)

// Handler is the lifecycle every registered handler variant
// implements.
type Handler interface {
	Start() error
	Stop(t termination.Type) error
}

// Registry is a plan-scoped, fixed-size vector of handlers referenced
// by integer index. It is constructed at plan setup and torn down at
// plan teardown, and is shared by every worker thread executing the
// plan.
type Registry struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// Register appends a handler and returns its stable integer index.
func (r *Registry) Register(h Handler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
	return len(r.handlers) - 1
}

// Get returns the handler at index i.
func (r *Registry) Get(i int) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.handlers) {
		return nil, fmt.Errorf("handler: index %d out of range (have %d)", i, len(r.handlers))
	}
	return r.handlers[i], nil
}

// StartAll starts every registered handler, in registration order.
func (r *Registry) StartAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, h := range r.handlers {
		if err := h.Start(); err != nil {
			return fmt.Errorf("handler: start index %d: %w", i, err)
		}
	}
	return nil
}

// StopAll stops every registered handler, in reverse registration
// order, continuing past individual failures and returning the first
// error encountered.
func (r *Registry) StopAll(t termination.Type) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for i := len(r.handlers) - 1; i >= 0; i-- {
		if err := r.handlers[i].Stop(t); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("handler: stop index %d: %w", i, err)
		}
	}
	return firstErr
}

// Len reports the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
