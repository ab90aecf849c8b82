package workflow

import (
	"context"
	"errors"
	"sync"
)

// Action is the contract for registered handlers. The engine resolves the
// node's config map against the run context before the call and awaits
// completion; handlers doing async work spawn their own goroutines and
// block until done. The return value becomes the step's output: maps are
// stored as-is, any other value is stored under "result".
type Action interface {
	Execute(ctx context.Context, config map[string]interface{}, runContext map[string]interface{}) (interface{}, error)
}

// ActionFunc is a function adapter for Action.
type ActionFunc func(ctx context.Context, config map[string]interface{}, runContext map[string]interface{}) (interface{}, error)

// Execute implements the Action interface.
func (f ActionFunc) Execute(ctx context.Context, config map[string]interface{}, runContext map[string]interface{}) (interface{}, error) {
	return f(ctx, config, runContext)
}

// Registry holds named action handlers. It is constructor-injected into
// the engine rather than kept as process-wide state so engines can be
// tested with fakes.
type Registry struct {
	actions map[string]Action
	mu      sync.RWMutex
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register registers an action handler under name.
func (r *Registry) Register(name string, action Action) error {
	if name == "" || action == nil {
		return errors.New("name and action are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = action
	return nil
}

// RegisterFunc registers a function as an action handler.
func (r *Registry) RegisterFunc(name string, fn ActionFunc) error {
	return r.Register(name, fn)
}

// Get looks up an action handler by name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]
	return action, ok
}

// Names returns the registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	return names
}
