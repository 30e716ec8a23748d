package display

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/composer"
	"github.com/t77yq/tileboard/internal/model"
)

const (
	defaultInterval = time.Second

	// A value is stale once it has missed this many refreshes
	staleFactor = 2

	textPlaceholder = "No data"
	textLoading     = "Loading..."
)

var titles = map[model.TileKind]string{
	model.KindWeather:       "Weather",
	model.KindSystemMetrics: "System Monitor",
	model.KindQuote:         "Quote",
	model.KindFinance:       "Finance",
	model.KindNews:          "Latest News",
	model.KindCalendar:      "Calendar",
	model.KindClock:         "Clock",
}

// Title returns the heading shown above a tile of kind
func Title(kind model.TileKind) string {
	if t, ok := titles[kind]; ok {
		return t
	}
	return ""
}

// Layout is the current set of tiles
type Layout interface {
	Tiles() []*composer.TileRuntime
	Pinned() []*composer.TileRuntime
}

// Reader reads cached tile values without blocking
type Reader interface {
	Get(id model.TileID) model.CacheEntry
}

// RendererOption configures a Renderer
type RendererOption func(*Renderer)

// WithInterval sets the render tick
func WithInterval(d time.Duration) RendererOption {
	return func(r *Renderer) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) RendererOption {
	return func(r *Renderer) {
		if now != nil {
			r.now = now
		}
	}
}

// Renderer is the single read loop: on every tick it turns each tile's cache
// entry into a payload and hands changed payloads to the surface
type Renderer struct {
	logger   *zap.Logger
	layout   Layout
	cache    Reader
	surface  Surface
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[model.TileID]Payload

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRenderer creates a renderer
func NewRenderer(layout Layout, cache Reader, surface Surface, logger *zap.Logger, opts ...RendererOption) *Renderer {
	r := &Renderer{
		logger:   logger.Named("renderer"),
		layout:   layout,
		cache:    cache,
		surface:  surface,
		interval: defaultInterval,
		now:      time.Now,
		last:     make(map[model.TileID]Payload),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start starts the render loop
func (r *Renderer) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("Renderer started", zap.Duration("interval", r.interval))
}

// Stop stops the render loop
func (r *Renderer) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

func (r *Renderer) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Render()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.Render()
		}
	}
}

// Render draws every tile once and returns how many payloads changed
func (r *Renderer) Render() int {
	tiles := append(r.layout.Pinned(), r.layout.Tiles()...)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[model.TileID]struct{}, len(tiles))
	changed := 0
	for _, tile := range tiles {
		seen[tile.ID] = struct{}{}
		payload := r.payload(tile, now)
		if prev, ok := r.last[tile.ID]; ok && reflect.DeepEqual(prev, payload) {
			continue
		}
		r.last[tile.ID] = payload
		r.surface.SetDisplay(tile.ID, payload)
		changed++
	}
	for id := range r.last {
		if _, ok := seen[id]; !ok {
			delete(r.last, id)
		}
	}
	return changed
}

// Snapshot returns the payloads pushed most recently, keyed by tile
func (r *Renderer) Snapshot() map[model.TileID]Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.TileID]Payload, len(r.last))
	for id, p := range r.last {
		out[id] = p
	}
	return out
}

func (r *Renderer) payload(tile *composer.TileRuntime, now time.Time) Payload {
	p := Payload{
		Tile:  tile.ID.String(),
		Title: Title(tile.Kind()),
		Color: tile.Color,
	}
	if tile.IsPlaceholder() {
		p.Placeholder = true
		p.Text = textPlaceholder
		return p
	}

	entry := r.cache.Get(tile.ID)
	if entry.LastError != nil && !entry.ErrorAt.Before(entry.FetchedAt) {
		p.Error = entry.LastError.Error()
	}
	if !entry.HasValue() {
		p.Loading = true
		p.Text = textLoading
		return p
	}

	fetched := entry.FetchedAt
	p.UpdatedAt = &fetched
	p.Text = describe(entry.Value)

	ttl := entry.TTL
	if ttl <= 0 {
		ttl = tile.Cadence
	}
	if ttl > 0 && now.Sub(entry.FetchedAt) >= staleFactor*ttl {
		p.Stale = true
	}
	return p
}
