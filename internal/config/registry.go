package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/heroai/pkg/audio"
	"github.com/MrWong99/heroai/pkg/audio/playback"
	"github.com/MrWong99/heroai/pkg/provider/assist"
	liveprov "github.com/MrWong99/heroai/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// OutputFactory opens an output device. Output devices are per session, so
// the factory is called on every session start.
type OutputFactory func(ctx context.Context, dev DeviceConfig) (playback.OutputDevice, error)

// Registry maps provider and driver names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	live   map[string]func(ProviderEntry) (liveprov.Provider, error)
	assist map[string]func(ProviderEntry) (assist.Backend, error)
	input  map[string]func(DeviceConfig) (audio.Microphone, error)
	output map[string]OutputFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:   make(map[string]func(ProviderEntry) (liveprov.Provider, error)),
		assist: make(map[string]func(ProviderEntry) (assist.Backend, error)),
		input:  make(map[string]func(DeviceConfig) (audio.Microphone, error)),
		output: make(map[string]OutputFactory),
	}
}

// RegisterLive registers a live provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (liveprov.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterAssist registers an assist backend factory under name.
func (r *Registry) RegisterAssist(name string, factory func(ProviderEntry) (assist.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assist[name] = factory
}

// RegisterInput registers a microphone driver under name.
func (r *Registry) RegisterInput(name string, factory func(DeviceConfig) (audio.Microphone, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input[name] = factory
}

// RegisterOutput registers an output device driver under name.
func (r *Registry) RegisterOutput(name string, factory OutputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[name] = factory
}

// CreateLive instantiates a live provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(entry ProviderEntry) (liveprov.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAssist instantiates an assist backend using the factory registered under entry.Name.
func (r *Registry) CreateAssist(entry ProviderEntry) (assist.Backend, error) {
	r.mu.RLock()
	factory, ok := r.assist[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: assist/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateInput instantiates the microphone registered under dev.Driver.
func (r *Registry) CreateInput(dev DeviceConfig) (audio.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.input[dev.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input/%q", ErrProviderNotRegistered, dev.Driver)
	}
	return factory(dev)
}

// Output returns a factory that opens the output device registered under
// dev.Driver. The lookup happens once, so a missing driver is reported at
// startup rather than on the first session.
func (r *Registry) Output(dev DeviceConfig) (func(ctx context.Context) (playback.OutputDevice, error), error) {
	r.mu.RLock()
	factory, ok := r.output[dev.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrProviderNotRegistered, dev.Driver)
	}
	return func(ctx context.Context) (playback.OutputDevice, error) {
		return factory(ctx, dev)
	}, nil
}
