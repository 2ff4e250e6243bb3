package action

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/idc-core/idc/engine/task"
)

var ErrInvalidFunction = errors.New("invalid function")

// Handler runs one task. It signals success through inv.Metrics.SetSuccess;
// returning an error or leaving the flag unset counts as failure.
type Handler interface {
	Execute(ctx context.Context, inv *Invocation) error
}

type HandlerFunc func(ctx context.Context, inv *Invocation) error

func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation) error {
	return f(ctx, inv)
}

// Registry maps the closed set of task functions to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[task.Function]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[task.Function]Handler)}
}

// Register binds a handler to a builtin function name.
func (r *Registry) Register(fn task.Function, h Handler) error {
	if !fn.IsBuiltin() {
		return fmt.Errorf("%w: %s is not a builtin function", ErrInvalidFunction, fn)
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrInvalidFunction, fn)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[fn] = h
	return nil
}

func (r *Registry) Lookup(fn task.Function) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[fn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFunction, fn)
	}
	return h, nil
}

// Functions lists registered functions in name order.
func (r *Registry) Functions() []task.Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]task.Function, 0, len(r.handlers))
	for fn := range r.handlers {
		out = append(out, fn)
	}
	slices.Sort(out)
	return out
}
