// Package plugin defines the test-execution capabilities paratest can drive and a registry to pick
// one by name at run time.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Plugin discovers and executes tests of one kind.
type Plugin interface {
	// Discover lists the test ids found under source that match pattern
	Discover(ctx context.Context, source, pattern string) ([]string, error)
	// Execute runs one test in workspace and writes its artefacts below output. A returned error
	// marks the test as failed.
	Execute(ctx context.Context, workerID, tid, workspace, output string) error
}

// Registry holds the registered plugins by name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// Register adds a plugin under the given name, replacing any previous one.
func (r *Registry) Register(name string, p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = p
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("plugin %q is not registered", name)
	}
	return p, nil
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
