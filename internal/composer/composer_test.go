package composer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/t77yq/tileboard/internal/cache"
	"github.com/t77yq/tileboard/internal/model"
	"github.com/t77yq/tileboard/internal/provider"
	"github.com/t77yq/tileboard/internal/scheduler"
)

type fixture struct {
	composer  *Composer
	registry  *provider.Registry
	scheduler *scheduler.RefreshScheduler
	cache     *cache.Cache
}

func staticFactory(kind model.TileKind, value string) provider.Factory {
	return provider.Factory{
		Kind:    kind,
		Cadence: time.Hour,
		Color:   model.Color{0.5, 0.5, 0.5, 1},
		New: func(provider.Deps) (provider.Provider, error) {
			return provider.ProviderFunc(func(ctx context.Context, params map[string]string) (any, error) {
				return value, nil
			}), nil
		},
	}
}

func newFixture(t *testing.T, factories ...provider.Factory) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	registry := provider.NewRegistry(provider.Deps{}, logger)
	for _, kind := range []model.TileKind{
		model.KindWeather, model.KindSystemMetrics, model.KindQuote,
		model.KindFinance, model.KindNews, model.KindCalendar, model.KindClock,
	} {
		registry.Register(staticFactory(kind, kind.String()))
	}
	for _, f := range factories {
		registry.Register(f)
	}

	c := cache.New(logger)
	s := scheduler.NewRefreshScheduler(c, logger)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})

	return &fixture{
		composer:  New(registry, s, c, logger),
		registry:  registry,
		scheduler: s,
		cache:     c,
	}
}

func widget(kind string, position int) model.TileSpec {
	return model.TileSpec{Type: kind, Position: position, Enabled: true, Color: model.DefaultTileColor}
}

func kindsOf(tiles []*TileRuntime) []model.TileKind {
	out := make([]model.TileKind, len(tiles))
	for i, tile := range tiles {
		out[i] = tile.Kind()
	}
	return out
}

func TestComposer_BuildFullGrid(t *testing.T) {
	f := newFixture(t)
	cfg := &model.DashboardConfig{
		Widgets: []model.TileSpec{
			widget("weather", 0),
			widget("system_monitor", 1),
			widget("quote", 2),
			widget("finance", 3),
		},
		Settings: model.DefaultSettings(),
	}

	tiles, warnings := f.composer.Build(cfg)
	assert.Empty(t, warnings)
	require.Len(t, tiles, 4)
	assert.Equal(t, []model.TileKind{
		model.KindWeather, model.KindSystemMetrics, model.KindQuote, model.KindFinance,
	}, kindsOf(tiles))
	for i, tile := range tiles {
		assert.False(t, tile.IsPlaceholder())
		assert.Equal(t, i, tile.ID.Position)
		assert.Equal(t, time.Hour, tile.Cadence)
	}
}

func TestComposer_BuildFillsGapsWithPlaceholders(t *testing.T) {
	f := newFixture(t)
	cfg := &model.DashboardConfig{
		Widgets: []model.TileSpec{
			widget("weather", 0),
			{Type: "news", Position: 1, Enabled: false},
			widget("calendar", 2),
		},
		Settings: model.DefaultSettings(),
	}

	tiles, warnings := f.composer.Build(cfg)
	assert.Empty(t, warnings)
	require.Len(t, tiles, 4)
	assert.Equal(t, []model.TileKind{
		model.KindWeather, model.KindEmpty, model.KindCalendar, model.KindEmpty,
	}, kindsOf(tiles))
	assert.True(t, tiles[1].IsPlaceholder())
	assert.True(t, tiles[3].IsPlaceholder())
	assert.Equal(t, 3, tiles[3].ID.Position)
}

func TestComposer_BuildCollisionFirstWins(t *testing.T) {
	f := newFixture(t)
	cfg := &model.DashboardConfig{
		Widgets: []model.TileSpec{
			widget("news", 1),
			widget("quote", 1),
		},
		Settings: model.DefaultSettings(),
	}

	tiles, warnings := f.composer.Build(cfg)
	require.Len(t, tiles, 4)
	assert.Equal(t, model.KindNews, tiles[1].Kind())

	require.Len(t, warnings, 1)
	assert.Equal(t, ReasonCollision, warnings[0].Reason)
	assert.Equal(t, 1, warnings[0].Index)
	assert.Equal(t, "quote", warnings[0].Type)
	assert.Contains(t, warnings[0].Error(), "position_collision")

	require.NoError(t, f.composer.Rebuild(cfg))
	assert.Equal(t, []string{warnings[0].Error()}, f.composer.WarningMessages())
}

func TestComposer_BuildLogsWarnings(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	c := New(f.registry, f.scheduler, f.cache, zap.New(core))

	_, warnings := c.Build(&model.DashboardConfig{
		Widgets: []model.TileSpec{
			widget("news", 1),
			widget("quote", 1),
			widget("weather", 9),
		},
		Settings: model.DefaultSettings(),
	})
	require.Len(t, warnings, 2)

	entries := logs.FilterMessage("Layout resolution warning").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "composer", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(ReasonCollision), fields["reason"])
	assert.Equal(t, "quote", fields["type"])
	assert.EqualValues(t, 1, fields["position"])
	assert.EqualValues(t, 1, fields["index"])
	assert.Equal(t, string(ReasonOutOfRange), entries[1].ContextMap()["reason"])

	// Rebuild logs each warning once
	logs.TakeAll()
	require.NoError(t, c.Rebuild(&model.DashboardConfig{
		Widgets:  []model.TileSpec{widget("news", 1), widget("quote", 1)},
		Settings: model.DefaultSettings(),
	}))
	assert.Equal(t, 1, logs.FilterMessage("Layout resolution warning").Len())
}

func TestComposer_BuildUnknownKindAndOutOfRange(t *testing.T) {
	f := newFixture(t)
	cfg := &model.DashboardConfig{
		Widgets: []model.TileSpec{
			widget("sparkline", 0),
			widget("weather", 4),
			widget("news", -1),
			widget("none", 2),
		},
		Settings: model.DefaultSettings(),
	}

	tiles, warnings := f.composer.Build(cfg)
	require.Len(t, tiles, 4)
	for _, tile := range tiles {
		assert.True(t, tile.IsPlaceholder(), "tile %s", tile.ID)
	}

	reasons := make([]WarningReason, len(warnings))
	for i, w := range warnings {
		reasons[i] = w.Reason
	}
	assert.ElementsMatch(t, []WarningReason{ReasonOutOfRange, ReasonOutOfRange, ReasonUnknownKind}, reasons)
}

func TestComposer_BuildProviderUnavailable(t *testing.T) {
	f := newFixture(t, provider.Factory{
		Kind:    model.KindNews,
		Cadence: time.Hour,
		New: func(provider.Deps) (provider.Provider, error) {
			return nil, provider.ErrUnavailable
		},
	})

	tiles, warnings := f.composer.Build(&model.DashboardConfig{
		Widgets:  []model.TileSpec{widget("news", 0)},
		Settings: model.DefaultSettings(),
	})
	assert.True(t, tiles[0].IsPlaceholder())
	require.Len(t, warnings, 1)
	assert.Equal(t, ReasonProviderUnavailable, warnings[0].Reason)
}

func TestComposer_BuildScalesCadence(t *testing.T) {
	f := newFixture(t)
	cfg := &model.DashboardConfig{
		Widgets: []model.TileSpec{
			widget("weather", 0),
			widget("clock", 1),
		},
		Settings: model.Settings{UpdateInterval: 120},
	}

	tiles, _ := f.composer.Build(cfg)
	assert.Equal(t, 2*time.Hour, tiles[0].Cadence)
	assert.Equal(t, time.Hour, tiles[1].Cadence)

	f.registry.SetCadence(model.KindWeather, 10*time.Minute)
	tiles, _ = f.composer.Build(cfg)
	assert.Equal(t, 20*time.Minute, tiles[0].Cadence)
}

func TestComposer_BuildColorFallback(t *testing.T) {
	f := newFixture(t)
	cfg := &model.DashboardConfig{
		Theme: "Sunset",
		Widgets: []model.TileSpec{
			{Type: "weather", Position: 0, Enabled: true},
		},
		Settings: model.DefaultSettings(),
	}

	tiles, _ := f.composer.Build(cfg)
	assert.Equal(t, model.Color{0.5, 0.5, 0.5, 1}, tiles[0].Color)

	sunset, ok := f.composer.themes.Get("Sunset")
	require.True(t, ok)
	assert.Equal(t, sunset.Colors[1], tiles[1].Color)
}

func TestComposer_BuildDoesNotRetainConfig(t *testing.T) {
	f := newFixture(t)
	cfg := &model.DashboardConfig{
		Widgets: []model.TileSpec{{
			Type: "finance", Position: 0, Enabled: true,
			Params: map[string]string{"symbol": "QQQ"},
		}},
		Settings: model.DefaultSettings(),
	}

	tiles, _ := f.composer.Build(cfg)
	cfg.Widgets[0].Params["symbol"] = "TSLA"
	assert.Equal(t, "QQQ", tiles[0].Spec.Params["symbol"])
}

func TestComposer_RebuildWarmsUpEveryTile(t *testing.T) {
	f := newFixture(t)
	cfg := &model.DashboardConfig{
		Widgets: []model.TileSpec{
			widget("weather", 0),
			widget("quote", 2),
		},
		Settings: model.DefaultSettings(),
	}

	require.NoError(t, f.composer.Rebuild(cfg))

	ids := []model.TileID{
		{Kind: model.KindWeather, Position: 0},
		{Kind: model.KindQuote, Position: 2},
		model.PinnedID(model.KindClock),
	}
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if !f.cache.Get(id).HasValue() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "weather", f.cache.Get(ids[0]).Value)
	assert.Len(t, f.scheduler.AllStatus(), 3)

	pinned := f.composer.Pinned()
	require.Len(t, pinned, 1)
	assert.Equal(t, model.PinnedID(model.KindClock), pinned[0].ID)
	assert.Equal(t, time.Hour, pinned[0].Cadence)
}

func TestComposer_RebuildIsIdempotent(t *testing.T) {
	f := newFixture(t)
	cfg := &model.DashboardConfig{
		Widgets: []model.TileSpec{
			widget("weather", 0),
			widget("news", 1),
			widget("news", 1),
		},
		Settings: model.DefaultSettings(),
	}

	require.NoError(t, f.composer.Rebuild(cfg))
	first := f.composer.Tiles()
	firstWarnings := f.composer.Warnings()

	require.NoError(t, f.composer.Rebuild(cfg))
	second := f.composer.Tiles()

	assert.Equal(t, kindsOf(first), kindsOf(second))
	assert.Equal(t, firstWarnings, f.composer.Warnings())
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		if !first[i].IsPlaceholder() {
			assert.NotSame(t, first[i], second[i])
			assert.Greater(t, second[i].Handle.Generation, first[i].Handle.Generation)
		}
	}
	assert.Len(t, f.scheduler.AllStatus(), 3)
	assert.True(t, f.composer.Config().Equal(cfg))
}

func TestComposer_RebuildPrunesRemovedTiles(t *testing.T) {
	f := newFixture(t)
	weather := model.TileID{Kind: model.KindWeather, Position: 0}
	news := model.TileID{Kind: model.KindNews, Position: 0}

	require.NoError(t, f.composer.Rebuild(&model.DashboardConfig{
		Widgets:  []model.TileSpec{widget("weather", 0)},
		Settings: model.DefaultSettings(),
	}))
	require.Eventually(t, func() bool {
		return f.cache.Get(weather).HasValue()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.composer.Rebuild(&model.DashboardConfig{
		Widgets:  []model.TileSpec{widget("news", 0)},
		Settings: model.DefaultSettings(),
	}))
	assert.False(t, f.cache.Get(weather).HasValue())
	require.Eventually(t, func() bool {
		return f.cache.Get(news).HasValue()
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := f.scheduler.Status(weather)
	assert.False(t, ok)
}

func TestComposer_FinanceFailureKeepsLastGoodValue(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, provider.Factory{
		Kind:    model.KindFinance,
		Cadence: time.Hour,
		New: func(provider.Deps) (provider.Provider, error) {
			return provider.ProviderFunc(func(ctx context.Context, params map[string]string) (any, error) {
				n := calls.Add(1)
				if n > 3 {
					return nil, errors.New("quote service unavailable")
				}
				return fmt.Sprintf("SPY %d", n), nil
			}), nil
		},
	})

	require.NoError(t, f.composer.Rebuild(&model.DashboardConfig{
		Widgets:  []model.TileSpec{widget("finance", 3)},
		Settings: model.DefaultSettings(),
	}))
	id := model.TileID{Kind: model.KindFinance, Position: 3}
	handle := f.composer.Tiles()[3].Handle
	require.NotNil(t, handle)

	waitFor := func(n int32) {
		require.Eventually(t, func() bool {
			return calls.Load() == n && !handle.Running()
		}, 2*time.Second, 5*time.Millisecond)
	}

	waitFor(1)
	for n := int32(2); n <= 4; n++ {
		require.NoError(t, f.scheduler.TriggerImmediate(id))
		waitFor(n)
	}

	entry := f.cache.Get(id)
	assert.Equal(t, "SPY 3", entry.Value)
	require.Error(t, entry.LastError)

	var perr *provider.Error
	require.ErrorAs(t, entry.LastError, &perr)
	assert.Equal(t, model.KindFinance, perr.Kind)
}

func TestComposer_EmptyResultIsAnError(t *testing.T) {
	f := newFixture(t, provider.Factory{
		Kind:    model.KindQuote,
		Cadence: time.Hour,
		New: func(provider.Deps) (provider.Provider, error) {
			return provider.ProviderFunc(func(ctx context.Context, params map[string]string) (any, error) {
				return nil, nil
			}), nil
		},
	})

	require.NoError(t, f.composer.Rebuild(&model.DashboardConfig{
		Widgets:  []model.TileSpec{widget("quote", 0)},
		Settings: model.DefaultSettings(),
	}))
	id := model.TileID{Kind: model.KindQuote, Position: 0}
	require.Eventually(t, func() bool {
		return f.cache.Get(id).LastError != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, f.cache.Get(id).LastError, provider.ErrEmptyResult)
	assert.False(t, f.cache.Get(id).HasValue())
}

func TestComposer_RebuildAfterStop(t *testing.T) {
	f := newFixture(t)
	f.scheduler.Stop()

	err := f.composer.Rebuild(&model.DashboardConfig{
		Widgets:  []model.TileSpec{widget("weather", 0)},
		Settings: model.DefaultSettings(),
	})
	assert.ErrorIs(t, err, scheduler.ErrSchedulerStopped)
}
