// SPDX-License-Identifier: AGPL-3.0-or-later

// Package plugin is the in-process registry plugins are resolved from,
// satisfying configuration-driven plugin selection without a filesystem
// or process-level plugin loader.
package plugin

import (
	"fmt"
	"sync"

	"github.com/sirimitm/sirimitm/internal/proxy"
)

// Constructor builds a fresh proxy.Plugin instance from the options map
// named in its config.PluginSpec entry.
type Constructor func(options map[string]any) (proxy.Plugin, error)

var (
	mu       sync.RWMutex
	registry = map[string]Constructor{}
)

// Register adds name to the registry. It panics on a duplicate
// registration, matching the reference pattern of registering plugins at
// package init time.
func Register(name string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("plugin: %q already registered", name))
	}
	registry[name] = ctor
}

// ErrUnknownPlugin indicates a config entry named a plugin not present in
// the registry.
type ErrUnknownPlugin struct {
	Name string
}

func (e *ErrUnknownPlugin) Error() string {
	return fmt.Sprintf("plugin: unknown plugin %q", e.Name)
}

// Factory resolves name to a proxy.PluginFactory bound to options, ready
// to be handed to proxy.NewListener.
func Factory(name string, options map[string]any) (proxy.PluginFactory, error) {
	mu.RLock()
	ctor, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, &ErrUnknownPlugin{Name: name}
	}
	return func() (proxy.Plugin, error) {
		return ctor(options)
	}, nil
}

// Names returns every registered plugin name, for diagnostics.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
