package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/easyvoice/pkg/audio"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// CaptureFactory builds a capture constructor. A nil constructor with a nil
// error means the provider deliberately offers no capture (receive-only).
type CaptureFactory func(entry ProviderEntry, voice VoiceConfig) (func() (audio.Capture, error), error)

// CodecFactory builds a codec.
type CodecFactory func(entry ProviderEntry, voice VoiceConfig) (audio.Codec, error)

// SinkFactory builds one sink for the speaker identified by speakerID.
type SinkFactory func(entry ProviderEntry, voice VoiceConfig, speakerID string) (audio.Sink, error)

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	capture map[string]CaptureFactory
	codec   map[string]CodecFactory
	sink    map[string]SinkFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture: make(map[string]CaptureFactory),
		codec:   make(map[string]CodecFactory),
		sink:    make(map[string]SinkFactory),
	}
}

// RegisterCapture registers a capture factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory CaptureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterCodec registers a codec factory under name.
func (r *Registry) RegisterCodec(name string, factory CodecFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codec[name] = factory
}

// RegisterSink registers a sink factory under name.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink[name] = factory
}

// CreateCapture returns the capture constructor registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateCapture(entry ProviderEntry, voice VoiceConfig) (func() (audio.Capture, error), error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, voice)
}

// CreateCodec instantiates the codec registered under entry.Name.
func (r *Registry) CreateCodec(entry ProviderEntry, voice VoiceConfig) (audio.Codec, error) {
	r.mu.RLock()
	factory, ok := r.codec[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: codec/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, voice)
}

// CreateSink instantiates a sink for speakerID using the factory registered
// under entry.Name.
func (r *Registry) CreateSink(entry ProviderEntry, voice VoiceConfig, speakerID string) (audio.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sink[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, voice, speakerID)
}

// Module assembles the capture and codec selected in cfg into an
// [audio.Module].
func (r *Registry) Module(cfg *Config) (audio.Module, error) {
	codec, err := r.CreateCodec(cfg.Providers.Codec, cfg.Voice)
	if err != nil {
		return nil, err
	}
	newCapture, err := r.CreateCapture(cfg.Providers.Capture, cfg.Voice)
	if err != nil {
		return nil, err
	}
	return audio.Capabilities{CaptureFactory: newCapture, Codec: codec}, nil
}
