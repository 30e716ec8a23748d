// Package composer turns the dashboard document into the set of live tiles.
//
// A rebuild is always total: every task is unregistered, the layout is
// resolved again from a private snapshot of the document, the new tasks are
// registered and warmed up. Tiles whose identity survives keep their cached
// value across the rebuild; everything else is pruned from the cache.
package composer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/config"
	"github.com/t77yq/tileboard/internal/model"
	"github.com/t77yq/tileboard/internal/provider"
	"github.com/t77yq/tileboard/internal/scheduler"
)

// Pruner drops cache entries of identities that left the layout
type Pruner interface {
	Prune(keep map[model.TileID]struct{}) int
}

// Option configures a Composer
type Option func(*Composer)

// WithSlots sets the number of grid positions
func WithSlots(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.slots = n
		}
	}
}

// WithPinned sets the kinds that always exist once, outside the grid
func WithPinned(kinds ...model.TileKind) Option {
	return func(c *Composer) {
		c.pinned = kinds
	}
}

// WithThemes colours placeholders from the document's theme
func WithThemes(themes *config.ThemeSet) Option {
	return func(c *Composer) {
		if themes != nil {
			c.themes = themes
		}
	}
}

// Composer builds and rebuilds the tile layout
type Composer struct {
	logger    *zap.Logger
	registry  *provider.Registry
	scheduler scheduler.Scheduler
	cache     Pruner
	slots     int
	pinned    []model.TileKind
	themes    *config.ThemeSet

	rebuildMu sync.Mutex

	mu       sync.RWMutex
	tiles    []*TileRuntime
	pinnedRT []*TileRuntime
	warnings []LayoutWarning
	current  *model.DashboardConfig
}

// New creates a composer. The clock is pinned by default.
func New(registry *provider.Registry, sched scheduler.Scheduler, cache Pruner, logger *zap.Logger, opts ...Option) *Composer {
	c := &Composer{
		logger:    logger.Named("composer"),
		registry:  registry,
		scheduler: sched,
		cache:     cache,
		slots:     config.DefaultGridSlots,
		pinned:    []model.TileKind{model.KindClock},
		themes:    config.BuiltinThemes(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Slots returns the number of grid positions
func (c *Composer) Slots() int {
	return c.slots
}

// Build resolves the grid of cfg: one runtime per slot, in slot order. The
// first enabled widget in document order wins a position. Build never fails;
// every problem becomes a placeholder or an ignored widget plus a warning.
func (c *Composer) Build(cfg *model.DashboardConfig) ([]*TileRuntime, []LayoutWarning) {
	var warnings []LayoutWarning
	claimed := make(map[int]int, c.slots)

	for i, spec := range cfg.Widgets {
		if !spec.Enabled {
			continue
		}
		if spec.Position < 0 || spec.Position >= c.slots {
			warnings = append(warnings, LayoutWarning{
				Position: spec.Position,
				Type:     spec.Type,
				Index:    i,
				Reason:   ReasonOutOfRange,
				Detail:   fmt.Sprintf("grid has %d slots", c.slots),
			})
			continue
		}
		if winner, taken := claimed[spec.Position]; taken {
			warnings = append(warnings, LayoutWarning{
				Position: spec.Position,
				Type:     spec.Type,
				Index:    i,
				Reason:   ReasonCollision,
				Detail:   fmt.Sprintf("position already owned by widget %d (%q)", winner, cfg.Widgets[winner].Type),
			})
			continue
		}
		claimed[spec.Position] = i
	}

	theme := c.themes.Resolve(cfg.Theme)
	tiles := make([]*TileRuntime, 0, c.slots)
	for slot := 0; slot < c.slots; slot++ {
		fallback := model.DefaultTileColor
		if slot < len(theme.Colors) {
			fallback = theme.Colors[slot]
		}

		idx, ok := claimed[slot]
		if !ok {
			tiles = append(tiles, placeholder(slot, fallback))
			continue
		}

		spec := cfg.Widgets[idx].Clone()
		tile, warning := c.resolve(spec, model.TileID{Kind: spec.Kind(), Position: slot}, cfg.Settings)
		if warning != nil {
			warning.Index = idx
			warnings = append(warnings, *warning)
			tiles = append(tiles, placeholder(slot, spec.Color))
			continue
		}
		tiles = append(tiles, tile)
	}
	c.logWarnings(warnings)
	return tiles, warnings
}

func (c *Composer) logWarnings(warnings []LayoutWarning) {
	for _, w := range warnings {
		c.logger.Warn("Layout resolution warning",
			zap.Int("position", w.Position),
			zap.String("type", w.Type),
			zap.Int("index", w.Index),
			zap.String("reason", string(w.Reason)),
			zap.String("detail", w.Detail))
	}
}

// resolve instantiates the provider of a spec. Empty kinds resolve to a
// placeholder without a warning.
func (c *Composer) resolve(spec model.TileSpec, id model.TileID, settings model.Settings) (*TileRuntime, *LayoutWarning) {
	kind := id.Kind
	if kind == model.KindEmpty {
		return placeholder(spec.Position, spec.Color), nil
	}

	factory, ok := c.registry.Lookup(kind)
	if kind == model.KindUnknown || !ok {
		return nil, &LayoutWarning{
			Position: spec.Position,
			Type:     spec.Type,
			Reason:   ReasonUnknownKind,
		}
	}

	p, err := c.registry.Instantiate(kind)
	if err != nil {
		return nil, &LayoutWarning{
			Position: spec.Position,
			Type:     spec.Type,
			Reason:   ReasonProviderUnavailable,
			Detail:   err.Error(),
		}
	}

	cadence := c.registry.Cadence(kind)
	if kind != model.KindClock {
		cadence = settings.Scale(cadence)
	}
	color := spec.Color
	if color == (model.Color{}) {
		color = factory.Color
	}

	return &TileRuntime{
		ID:       id,
		Spec:     spec,
		Provider: p,
		Cadence:  cadence,
		Color:    color,
	}, nil
}

func (c *Composer) buildPinned(cfg *model.DashboardConfig) ([]*TileRuntime, []LayoutWarning) {
	var tiles []*TileRuntime
	var warnings []LayoutWarning
	for _, kind := range c.pinned {
		spec := model.TileSpec{Type: kind.String(), Position: model.PinnedPosition, Enabled: true}
		tile, warning := c.resolve(spec, model.PinnedID(kind), cfg.Settings)
		if warning != nil {
			warning.Index = -1
			warnings = append(warnings, *warning)
			continue
		}
		tiles = append(tiles, tile)
	}
	c.logWarnings(warnings)
	return tiles, warnings
}

// Rebuild replaces the live layout with the one described by cfg: unregister
// everything, build, register every tile job, prune the cache and warm every
// tile up. Only a stopped scheduler makes it fail.
func (c *Composer) Rebuild(cfg *model.DashboardConfig) error {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	snapshot := cfg.Clone()
	c.scheduler.UnregisterAll()

	tiles, warnings := c.Build(snapshot)
	pinned, pinnedWarnings := c.buildPinned(snapshot)
	warnings = append(warnings, pinnedWarnings...)

	keep := make(map[model.TileID]struct{}, len(tiles)+len(pinned))
	register := func(tile *TileRuntime) error {
		handle, err := c.scheduler.RegisterTask(tile.ID, tile.Cadence, c.job(tile))
		if err != nil {
			return err
		}
		tile.Handle = handle
		keep[tile.ID] = struct{}{}
		return nil
	}

	for i, tile := range tiles {
		if tile.IsPlaceholder() {
			continue
		}
		if err := register(tile); err != nil {
			if errors.Is(err, scheduler.ErrSchedulerStopped) {
				return err
			}
			warning := LayoutWarning{
				Position: tile.ID.Position,
				Type:     tile.Spec.Type,
				Index:    -1,
				Reason:   ReasonRegistrationFailed,
				Detail:   err.Error(),
			}
			c.logWarnings([]LayoutWarning{warning})
			warnings = append(warnings, warning)
			tiles[i] = placeholder(tile.ID.Position, tile.Color)
		}
	}
	live := pinned[:0]
	for _, tile := range pinned {
		if err := register(tile); err != nil {
			if errors.Is(err, scheduler.ErrSchedulerStopped) {
				return err
			}
			c.logger.Error("Failed to register pinned tile",
				zap.String("tile", tile.ID.String()),
				zap.Error(err))
			continue
		}
		live = append(live, tile)
	}

	pruned := c.cache.Prune(keep)

	c.mu.Lock()
	c.tiles = tiles
	c.pinnedRT = live
	c.warnings = warnings
	c.current = snapshot
	c.mu.Unlock()

	c.logger.Info("Rebuilt layout",
		zap.Int("tiles", len(keep)),
		zap.Int("warnings", len(warnings)),
		zap.Int("pruned", pruned))

	for id := range keep {
		if err := c.scheduler.TriggerImmediate(id); err != nil {
			c.logger.Warn("Failed to warm up tile",
				zap.String("tile", id.String()),
				zap.Error(err))
		}
	}
	return nil
}

// job adapts a tile's provider to a scheduler job
func (c *Composer) job(tile *TileRuntime) scheduler.Job {
	kind := tile.ID.Kind
	p := tile.Provider
	params := tile.Spec.Clone().Params
	return func(ctx context.Context) (any, error) {
		value, err := p.Fetch(ctx, params)
		if err != nil {
			return nil, provider.Wrap(kind, err)
		}
		if value == nil {
			return nil, provider.Wrap(kind, provider.ErrEmptyResult)
		}
		return value, nil
	}
}

// Tiles returns the grid tiles in slot order
func (c *Composer) Tiles() []*TileRuntime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TileRuntime, len(c.tiles))
	copy(out, c.tiles)
	return out
}

// Pinned returns the tiles that live outside the grid
func (c *Composer) Pinned() []*TileRuntime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TileRuntime, len(c.pinnedRT))
	copy(out, c.pinnedRT)
	return out
}

// Warnings returns the warnings of the last rebuild
func (c *Composer) Warnings() []LayoutWarning {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LayoutWarning, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// WarningMessages returns the warnings of the last rebuild as text
func (c *Composer) WarningMessages() []string {
	warnings := c.Warnings()
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.Error()
	}
	return out
}

// Config returns a copy of the document the current layout was built from
func (c *Composer) Config() *model.DashboardConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Clone()
}
