package config

import "github.com/t77yq/tileboard/internal/model"

const (
	// DefaultGridSlots is the number of positions in the tile grid
	DefaultGridSlots = 4

	// DefaultThemeName is used when the document names no theme
	DefaultThemeName = "Warm Waters"

	// DefaultFileName is the dashboard document written next to the binary
	DefaultFileName = "dashboard_config.json"
)

// DefaultConfig returns the document written on first start or after a corrupt load
func DefaultConfig() *model.DashboardConfig {
	return &model.DashboardConfig{
		Theme: DefaultThemeName,
		Widgets: []model.TileSpec{
			{Type: "weather", Position: 0, Enabled: true, Color: model.Color{0.8, 0.6, 0.4, 1}},
			{Type: "system_monitor", Position: 1, Enabled: true, Color: model.Color{0.6, 0.8, 0.9, 1}},
			{Type: "quote", Position: 2, Enabled: true, Color: model.Color{0.9, 0.7, 0.5, 1}},
			{Type: "finance", Position: 3, Enabled: true, Color: model.Color{0.7, 0.9, 0.8, 1}},
			{Type: "news", Position: 4, Enabled: false, Color: model.Color{0.8, 0.6, 0.4, 1}},
			{Type: "calendar", Position: 5, Enabled: false, Color: model.Color{0.6, 0.8, 0.9, 1}},
		},
		Settings: model.DefaultSettings(),
	}
}
