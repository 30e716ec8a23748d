package model

import (
	"reflect"
	"time"
)

// DefaultUpdateInterval is the update_interval that corresponds to a 1x cadence multiplier
const DefaultUpdateInterval = 60

// Settings holds global dashboard switches
type Settings struct {
	UpdateInterval int  `json:"update_interval"`
	Fullscreen     bool `json:"fullscreen"`
	AutoStart      bool `json:"auto_start"`
}

// DefaultSettings returns the built-in settings
func DefaultSettings() Settings {
	return Settings{
		UpdateInterval: DefaultUpdateInterval,
		Fullscreen:     true,
		AutoStart:      true,
	}
}

// Multiplier is the factor applied to every kind cadence
func (s Settings) Multiplier() float64 {
	if s.UpdateInterval <= 0 {
		return 1
	}
	return float64(s.UpdateInterval) / DefaultUpdateInterval
}

// Scale applies the multiplier to a cadence, never going below one second
func (s Settings) Scale(cadence time.Duration) time.Duration {
	scaled := time.Duration(float64(cadence) * s.Multiplier()).Round(time.Second)
	if scaled < time.Second {
		return time.Second
	}
	return scaled
}

// DashboardConfig is the persisted, user-editable dashboard document
type DashboardConfig struct {
	Theme    string     `json:"theme"`
	Widgets  []TileSpec `json:"widgets"`
	Settings Settings   `json:"settings"`
}

// Clone returns a deep copy that shares nothing with c
func (c *DashboardConfig) Clone() *DashboardConfig {
	if c == nil {
		return nil
	}
	out := &DashboardConfig{
		Theme:    c.Theme,
		Settings: c.Settings,
		Widgets:  make([]TileSpec, len(c.Widgets)),
	}
	for i, w := range c.Widgets {
		out.Widgets[i] = w.Clone()
	}
	return out
}

// Equal compares two documents by value
func (c *DashboardConfig) Equal(other *DashboardConfig) bool {
	return reflect.DeepEqual(c, other)
}

// Theme is a named palette applied to grid positions in order
type Theme struct {
	Name   string  `json:"name" toml:"name"`
	Colors []Color `json:"colors" toml:"colors"`
}
