package provider

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/model"
)

// Deps are the process-owned collaborators handed to every factory
type Deps struct {
	HTTP        *HTTPClient
	Events      EventSource
	Now         func() time.Time
	Temperature TemperatureReader
	Weather     WeatherConfig
	Finance     FinanceConfig
	News        NewsConfig
	Logger      *zap.Logger
}

// Factory describes one tile kind: how to build its provider, how often it
// refreshes and which colour it gets when none is configured
type Factory struct {
	Kind    model.TileKind
	Cadence time.Duration
	Color   model.Color
	New     func(deps Deps) (Provider, error)
}

// Builtins returns the factory of every shipped tile kind
func Builtins() []Factory {
	return []Factory{
		{Kind: model.KindClock, Cadence: time.Second, Color: model.Color{0.1, 0.1, 0.1, 1}, New: newClock},
		{Kind: model.KindSystemMetrics, Cadence: 10 * time.Second, Color: model.Color{0.6, 0.8, 0.9, 1}, New: newSystemMetrics},
		{Kind: model.KindFinance, Cadence: 2 * time.Minute, Color: model.Color{0.7, 0.9, 0.8, 1}, New: newFinance},
		{Kind: model.KindWeather, Cadence: 5 * time.Minute, Color: model.Color{0.8, 0.6, 0.4, 1}, New: newWeather},
		{Kind: model.KindCalendar, Cadence: 5 * time.Minute, Color: model.Color{0.6, 0.8, 0.9, 1}, New: newCalendar},
		{Kind: model.KindNews, Cadence: 10 * time.Minute, Color: model.Color{0.8, 0.6, 0.4, 1}, New: newNews},
		{Kind: model.KindQuote, Cadence: 30 * time.Minute, Color: model.Color{0.9, 0.7, 0.5, 1}, New: newQuote},
	}
}

// Registry is the single kind to factory table
type Registry struct {
	logger *zap.Logger
	deps   Deps

	mu        sync.RWMutex
	factories map[model.TileKind]Factory
	cadences  map[model.TileKind]time.Duration
}

// NewRegistry creates an empty registry
func NewRegistry(deps Deps, logger *zap.Logger) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Registry{
		logger:    logger.Named("providers"),
		deps:      deps,
		factories: make(map[model.TileKind]Factory),
		cadences:  make(map[model.TileKind]time.Duration),
	}
}

// DefaultRegistry creates a registry holding every built-in factory
func DefaultRegistry(deps Deps, logger *zap.Logger) *Registry {
	r := NewRegistry(deps, logger)
	for _, f := range Builtins() {
		r.Register(f)
	}
	return r
}

// Register adds or replaces the factory for f.Kind
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Kind] = f
}

// SetCadence overrides the default cadence of a kind
func (r *Registry) SetCadence(kind model.TileKind, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d <= 0 {
		delete(r.cadences, kind)
		return
	}
	r.cadences[kind] = d
	r.logger.Info("Overriding tile cadence",
		zap.String("kind", kind.String()),
		zap.Duration("cadence", d))
}

// Lookup returns the factory registered for kind
func (r *Registry) Lookup(kind model.TileKind) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Cadence returns the configured cadence of kind, or zero when kind has no factory
func (r *Registry) Cadence(kind model.TileKind) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.cadences[kind]; ok {
		return d
	}
	return r.factories[kind].Cadence
}

// Instantiate builds a provider for kind
func (r *Registry) Instantiate(kind model.TileKind) (Provider, error) {
	f, ok := r.Lookup(kind)
	if !ok || f.New == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	p, err := f.New(r.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", kind, err)
	}
	return p, nil
}

// Kinds returns every kind with a factory, in enum order
func (r *Registry) Kinds() []model.TileKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]model.TileKind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
