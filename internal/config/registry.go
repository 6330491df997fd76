package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/sharon/pkg/audio"
	"github.com/MrWong99/sharon/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by the Create methods when nothing is
// registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one named set of constructors taking config section C.
type factories[C, T any] struct {
	kind string
	m    map[string]func(C) (T, error)
}

func (f *factories[C, T]) create(name string, c C) (T, error) {
	fn, ok := f.m[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return fn(c)
}

// Registry maps the names used in the config file to constructors. It is
// safe for concurrent use; a later registration under the same name wins.
type Registry struct {
	mu    sync.RWMutex
	s2s   factories[ProviderEntry, s2s.Provider]
	audio factories[AudioConfig, audio.Backend]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		s2s:   factories[ProviderEntry, s2s.Provider]{kind: "s2s", m: map[string]func(ProviderEntry) (s2s.Provider, error){}},
		audio: factories[AudioConfig, audio.Backend]{kind: "audio", m: map[string]func(AudioConfig) (audio.Backend, error){}},
	}
}

// RegisterS2S registers a transport constructor for provider.name.
func (r *Registry) RegisterS2S(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s.m[name] = factory
}

// RegisterAudio registers a backend constructor for audio.backend.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (audio.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = factory
}

// CreateS2S builds the transport named by entry.Name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s2s.create(entry.Name, entry)
}

// CreateAudio builds the backend named by cfg.Backend, [AudioDevice] when
// empty.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Backend, error) {
	name := cfg.Backend
	if name == "" {
		name = AudioDevice
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create(name, cfg)
}

// Names lists the registered names per kind ("s2s", "audio"), sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.s2s.kind:   slices.Sorted(maps.Keys(r.s2s.m)),
		r.audio.kind: slices.Sorted(maps.Keys(r.audio.m)),
	}
}
