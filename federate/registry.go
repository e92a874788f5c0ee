package federate

import (
	"fmt"
	"sort"
	"sync"
)

// A Registry finds endpoints by name.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]*Application
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]*Application)}
}

// Add registers an endpoint under name.
func (r *Registry) Add(name string, app *Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.apps[name]; ok && existing != app {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	r.apps[name] = app

	return nil
}

// Remove unregisters name if it refers to app.
func (r *Registry) Remove(name string, app *Application) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.apps[name] == app {
		delete(r.apps, name)
	}
}

// Lookup returns the endpoint registered under name.
func (r *Registry) Lookup(name string) (*Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	app, ok := r.apps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFederate, name)
	}

	return app, nil
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.apps)
}
