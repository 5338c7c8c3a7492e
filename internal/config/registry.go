package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/endpoint"
	"github.com/MrWong99/voxgate/pkg/provider/liveness"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
	"github.com/MrWong99/voxgate/pkg/provider/snr"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

// Registry maps provider names to constructors for every collaborator kind
// and for audio devices. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	device   factories[audio.Device]
	endpoint factories[endpoint.Detector]
	quality  factories[quality.Scorer]
	liveness factories[liveness.Scorer]
	snr      factories[snr.Computer]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		device:   newFactories[audio.Device](KindDevice),
		endpoint: newFactories[endpoint.Detector](KindEndpoint),
		quality:  newFactories[quality.Scorer](KindQuality),
		liveness: newFactories[liveness.Scorer](KindLiveness),
		snr:      newFactories[snr.Computer](KindSNR),
	}
}

func register[T any](r *Registry, f *factories[T], name string, factory Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.m[name] = factory
}

func create[T any](r *Registry, f *factories[T], entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := f.m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

// RegisterDevice registers an audio device factory under name. A later
// registration with the same name replaces the earlier one.
func (r *Registry) RegisterDevice(name string, f Factory[audio.Device]) {
	register(r, &r.device, name, f)
}

// RegisterEndpoint registers a speech endpoint detector factory.
func (r *Registry) RegisterEndpoint(name string, f Factory[endpoint.Detector]) {
	register(r, &r.endpoint, name, f)
}

// RegisterQuality registers a quality scorer factory.
func (r *Registry) RegisterQuality(name string, f Factory[quality.Scorer]) {
	register(r, &r.quality, name, f)
}

// RegisterLiveness registers a liveness scorer factory.
func (r *Registry) RegisterLiveness(name string, f Factory[liveness.Scorer]) {
	register(r, &r.liveness, name, f)
}

// RegisterSNR registers an SNR computer factory.
func (r *Registry) RegisterSNR(name string, f Factory[snr.Computer]) {
	register(r, &r.snr, name, f)
}

// CreateDevice instantiates the device registered under entry.Name.
// Returns [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateDevice(entry ProviderEntry) (audio.Device, error) {
	return create(r, &r.device, entry)
}

// CreateEndpoint instantiates the endpoint detector registered under
// entry.Name.
func (r *Registry) CreateEndpoint(entry ProviderEntry) (endpoint.Detector, error) {
	return create(r, &r.endpoint, entry)
}

// CreateQuality builds the quality chain. A single entry is returned as is;
// several are wrapped in a [resilience.QualityFallback].
func (r *Registry) CreateQuality(chain []ProviderEntry, cfg resilience.FallbackConfig) (quality.Scorer, error) {
	if len(chain) == 0 {
		return nil, nil
	}
	first, err := create(r, &r.quality, chain[0])
	if err != nil {
		return nil, err
	}
	if len(chain) == 1 {
		return first, nil
	}
	fb := resilience.NewQualityFallback(first, chain[0].Name, cfg)
	for _, e := range chain[1:] {
		v, err := create(r, &r.quality, e)
		if err != nil {
			_ = fb.Close()
			return nil, err
		}
		fb.AddFallback(e.Name, v)
	}
	return fb, nil
}

// CreateLiveness builds the liveness chain like [Registry.CreateQuality].
// An empty chain yields a nil scorer.
func (r *Registry) CreateLiveness(chain []ProviderEntry, cfg resilience.FallbackConfig) (liveness.Scorer, error) {
	if len(chain) == 0 {
		return nil, nil
	}
	first, err := create(r, &r.liveness, chain[0])
	if err != nil {
		return nil, err
	}
	if len(chain) == 1 {
		return first, nil
	}
	fb := resilience.NewLivenessFallback(first, chain[0].Name, cfg)
	for _, e := range chain[1:] {
		v, err := create(r, &r.liveness, e)
		if err != nil {
			_ = fb.Close()
			return nil, err
		}
		fb.AddFallback(e.Name, v)
	}
	return fb, nil
}

// CreateSNR builds the SNR chain like [Registry.CreateQuality].
func (r *Registry) CreateSNR(chain []ProviderEntry, cfg resilience.FallbackConfig) (snr.Computer, error) {
	if len(chain) == 0 {
		return nil, nil
	}
	first, err := create(r, &r.snr, chain[0])
	if err != nil {
		return nil, err
	}
	if len(chain) == 1 {
		return first, nil
	}
	fb := resilience.NewSNRFallback(first, chain[0].Name, cfg)
	for _, e := range chain[1:] {
		v, err := create(r, &r.snr, e)
		if err != nil {
			_ = fb.Close()
			return nil, err
		}
		fb.AddFallback(e.Name, v)
	}
	return fb, nil
}

// Names returns the registered names of kind in sorted order.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindDevice:
		return slices.Sorted(maps.Keys(r.device.m))
	case KindEndpoint:
		return slices.Sorted(maps.Keys(r.endpoint.m))
	case KindQuality:
		return slices.Sorted(maps.Keys(r.quality.m))
	case KindLiveness:
		return slices.Sorted(maps.Keys(r.liveness.m))
	case KindSNR:
		return slices.Sorted(maps.Keys(r.snr.m))
	}
	return nil
}
