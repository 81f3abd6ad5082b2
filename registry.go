package storekit

import (
	"fmt"
	"sort"
	"sync"
)

// BackendFactory creates a Backend bound to one storage's effective
// configuration.
type BackendFactory func(storageName string, cfg Config) (Backend, error)

var (
	backendFactories = make(map[string]BackendFactory)
	registryMutex    sync.RWMutex
)

// RegisterBackend registers a backend factory under a name. Driver packages
// call it from init(); importing a driver is enough to make its backend
// available.
func RegisterBackend(name string, factory BackendFactory) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	backendFactories[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	names := make([]string, 0, len(backendFactories))
	for name := range backendFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newBackend instantiates the backend registered under name.
func newBackend(name, storageName string, cfg Config) (Backend, error) {
	registryMutex.RLock()
	factory, exists := backendFactories[name]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}

	return factory(storageName, cfg)
}
