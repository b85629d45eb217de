package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/micpipe/pkg/audio/afe"
	"github.com/MrWong99/micpipe/pkg/audio/device"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// DeviceFactory constructs a capture device from its configuration entry.
type DeviceFactory func(BackendEntry) (device.Device, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceFactory
	engines map[string]afe.Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]DeviceFactory),
		engines: make(map[string]afe.Factory),
	}
}

// RegisterDevice registers a capture device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(name string, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// RegisterEngine registers an audio front-end engine factory under name.
func (r *Registry) RegisterEngine(name string, factory afe.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// CreateDevice instantiates the device registered under entry.Name.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDevice(entry BackendEntry) (device.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEngine instantiates the engine registered under cfg.Engine.Name with
// the engine configuration derived from cfg.
func (r *Registry) CreateEngine(cfg *Config) (afe.Engine, error) {
	r.mu.RLock()
	factory, ok := r.engines[cfg.Engine.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine/%q", ErrBackendNotRegistered, cfg.Engine.Name)
	}
	acfg := cfg.AFEConfig()
	if err := acfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: engine/%q: %w", cfg.Engine.Name, err)
	}
	return factory(acfg)
}

// Devices returns the registered device backend names in unspecified order.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.devices))
	for n := range r.devices {
		names = append(names, n)
	}
	return names
}
