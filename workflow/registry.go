package workflow

import (
	"fmt"
	"sync"
)

// Registry stores workflow handlers by name behind a reader-writer lock.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a new workflow registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler to the registry. Registering an existing name
// overwrites the previous handler.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("workflow name cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("workflow handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	return nil
}

// Get retrieves a handler by name
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[name]
	if !exists {
		return nil, fmt.Errorf("workflow %s not registered", name)
	}
	return h, nil
}

// List returns all registered workflow names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
