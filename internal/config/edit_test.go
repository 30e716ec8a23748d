package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/tileboard/internal/model"
)

func TestEditor_SetSlotKind(t *testing.T) {
	e := NewEditor(4, nil)

	t.Run("replaces kind in place", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Widgets[3].Params = map[string]string{"symbol": "QQQ"}
		require.NoError(t, e.SetSlotKind(cfg, 3, "News"))

		w := WidgetAt(cfg, 3)
		require.NotNil(t, w)
		assert.Equal(t, "news", w.Type)
		assert.True(t, w.Enabled)
		assert.Nil(t, w.Params)
		assert.Len(t, cfg.Widgets, 6)
	})

	t.Run("none disables", func(t *testing.T) {
		cfg := DefaultConfig()
		require.NoError(t, e.SetSlotKind(cfg, 1, "none"))
		assert.False(t, WidgetAt(cfg, 1).Enabled)
		assert.Equal(t, "system_monitor", WidgetAt(cfg, 1).Type)
	})

	t.Run("auto inserts on unoccupied slot", func(t *testing.T) {
		cfg := &model.DashboardConfig{Settings: model.DefaultSettings()}
		require.NoError(t, e.SetSlotKind(cfg, 2, "system-metrics"))

		require.Len(t, cfg.Widgets, 1)
		assert.Equal(t, model.TileSpec{
			Type:     "system_monitor",
			Position: 2,
			Enabled:  true,
			Color:    model.DefaultTileColor,
		}, cfg.Widgets[0])

		require.NoError(t, e.SetSlotKind(cfg, 0, "none"))
		assert.Len(t, cfg.Widgets, 1)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.ErrorIs(t, e.SetSlotKind(cfg, 4, "weather"), ErrPositionOutOfRange)
		assert.ErrorIs(t, e.SetSlotKind(cfg, -1, "weather"), ErrPositionOutOfRange)
		assert.ErrorIs(t, e.SetSlotKind(cfg, 0, "radar"), ErrUnknownKind)
		assert.True(t, cfg.Equal(DefaultConfig()))
	})
}

func TestEditor_ToggleSlot(t *testing.T) {
	e := NewEditor(4, nil)
	cfg := DefaultConfig()

	enabled, err := e.ToggleSlot(cfg, 2)
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = e.ToggleSlot(cfg, 2)
	require.NoError(t, err)
	assert.True(t, enabled)

	empty := &model.DashboardConfig{}
	_, err = e.ToggleSlot(empty, 0)
	assert.ErrorIs(t, err, ErrSlotEmpty)
}

func TestEditor_CycleColor(t *testing.T) {
	e := NewEditor(4, nil)
	cfg := &model.DashboardConfig{Widgets: []model.TileSpec{
		{Type: "quote", Position: 0, Enabled: true, Color: model.Color{0.9, 0.9, 0.9, 1}},
	}}

	// Unknown colour restarts the cycle
	c, err := e.CycleColor(cfg, 0)
	require.NoError(t, err)
	assert.Equal(t, colorCycle[0], c)

	for i := 1; i < len(colorCycle); i++ {
		c, err = e.CycleColor(cfg, 0)
		require.NoError(t, err)
		assert.Equal(t, colorCycle[i], c)
	}

	// Wraps around
	c, err = e.CycleColor(cfg, 0)
	require.NoError(t, err)
	assert.Equal(t, colorCycle[0], c)
}

func TestEditor_SetParam(t *testing.T) {
	e := NewEditor(4, nil)
	cfg := DefaultConfig()

	require.NoError(t, e.SetParam(cfg, 3, "symbol", "AAPL"))
	assert.Equal(t, "AAPL", WidgetAt(cfg, 3).Param("symbol", "SPY"))

	require.NoError(t, e.SetParam(cfg, 3, "symbol", ""))
	assert.Nil(t, WidgetAt(cfg, 3).Params)
	assert.Equal(t, "SPY", WidgetAt(cfg, 3).Param("symbol", "SPY"))
}

func TestEditor_ApplyTheme(t *testing.T) {
	e := NewEditor(4, nil)
	cfg := &model.DashboardConfig{Widgets: []model.TileSpec{
		{Type: "finance", Position: 1, Enabled: true, Color: model.DefaultTileColor},
	}}

	require.NoError(t, e.ApplyTheme(cfg, "Forest Night"))
	assert.Equal(t, "Forest Night", cfg.Theme)

	theme, _ := e.Themes.Get("Forest Night")
	for pos := 0; pos < 4; pos++ {
		w := WidgetAt(cfg, pos)
		require.NotNil(t, w, "position %d", pos)
		assert.Equal(t, theme.Colors[pos], w.Color)
	}
	assert.Equal(t, "finance", WidgetAt(cfg, 1).Type)
	assert.Equal(t, "weather", WidgetAt(cfg, 0).Type)

	assert.ErrorIs(t, e.ApplyTheme(cfg, "Neon"), ErrUnknownTheme)
}

func TestEnabled(t *testing.T) {
	enabled := Enabled(DefaultConfig())
	require.Len(t, enabled, 4)
	for i, w := range enabled {
		assert.Equal(t, i, w.Position)
	}
}

func TestLoadThemes(t *testing.T) {
	t.Run("builtins only", func(t *testing.T) {
		set, err := LoadThemes("")
		require.NoError(t, err)
		assert.Equal(t, []string{"Warm Waters", "Forest Night", "Sunset", "Classic"}, set.Names())
		assert.Equal(t, DefaultThemeName, set.Resolve("missing").Name)
	})

	t.Run("missing file", func(t *testing.T) {
		set, err := LoadThemes(filepath.Join(t.TempDir(), "themes.toml"))
		require.NoError(t, err)
		assert.Len(t, set.Names(), 4)
	})

	t.Run("extra and overridden palettes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "themes.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[[theme]]
name = "Midnight"
colors = [[0.1, 0.1, 0.2, 1.0], [0.2, 0.2, 0.3, 1.0], [1.5, 0.0, 0.0, 1.0]]

[[theme]]
name = "Classic"
colors = [[0.0, 0.0, 0.0, 1.0]]
`), 0644))

		set, err := LoadThemes(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"Warm Waters", "Forest Night", "Sunset", "Classic", "Midnight"}, set.Names())

		midnight, ok := set.Get("Midnight")
		require.True(t, ok)
		require.Len(t, midnight.Colors, 3)
		assert.Equal(t, model.Color{1, 0, 0, 1}, midnight.Colors[2])

		classic, _ := set.Get("Classic")
		assert.Equal(t, []model.Color{{0, 0, 0, 1}}, classic.Colors)
	})

	t.Run("malformed colour", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "themes.toml")
		require.NoError(t, os.WriteFile(path, []byte("[[theme]]\nname = \"Bad\"\ncolors = [[0.1, 0.2]]\n"), 0644))

		set, err := LoadThemes(path)
		assert.Error(t, err)
		assert.Len(t, set.Names(), 4)
	})
}
