package scheduler

import (
	"context"
	"sync"
)

// Handler executes a task's work and returns an opaque result.
// Handlers receive a read-only snapshot of the task, must be safe to
// invoke concurrently with other handlers, and must not call back into
// the scheduler.
type Handler func(ctx context.Context, task Task) (any, error)

// HandlerRegistry maps task kinds to the handlers that execute them.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[TaskKind]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[TaskKind]Handler),
	}
}

// Register associates a handler with a kind. Re-registering a kind
// replaces the previous handler: last write wins.
func (h *HandlerRegistry) Register(kind TaskKind, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[kind] = handler
}

// Resolve returns the handler for a kind, or false if none is registered.
func (h *HandlerRegistry) Resolve(kind TaskKind) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	handler, ok := h.handlers[kind]
	return handler, ok
}
