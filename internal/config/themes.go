package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/t77yq/tileboard/internal/model"
)

var builtinThemes = []model.Theme{
	{
		Name: "Warm Waters",
		Colors: []model.Color{
			{0.8, 0.6, 0.4, 1},
			{0.6, 0.8, 0.9, 1},
			{0.9, 0.7, 0.5, 1},
			{0.7, 0.9, 0.8, 1},
		},
	},
	{
		Name: "Forest Night",
		Colors: []model.Color{
			{0.2, 0.4, 0.3, 1},
			{0.3, 0.5, 0.4, 1},
			{0.4, 0.3, 0.2, 1},
			{0.2, 0.3, 0.4, 1},
		},
	},
	{
		Name: "Sunset",
		Colors: []model.Color{
			{0.8, 0.4, 0.2, 1},
			{0.9, 0.5, 0.3, 1},
			{0.7, 0.3, 0.5, 1},
			{0.6, 0.4, 0.2, 1},
		},
	},
	{
		Name: "Classic",
		Colors: []model.Color{
			{0.2, 0.4, 0.6, 1},
			{0.3, 0.6, 0.3, 1},
			{0.6, 0.5, 0.8, 1},
			{0.2, 0.3, 0.4, 1},
		},
	},
}

// ThemeSet is the ordered collection of palettes the editor can apply
type ThemeSet struct {
	order  []string
	themes map[string]model.Theme
}

// BuiltinThemes returns the palettes shipped with the dashboard
func BuiltinThemes() *ThemeSet {
	set := &ThemeSet{themes: make(map[string]model.Theme)}
	for _, t := range builtinThemes {
		set.add(t)
	}
	return set
}

func (s *ThemeSet) add(t model.Theme) {
	if _, exists := s.themes[t.Name]; !exists {
		s.order = append(s.order, t.Name)
	}
	colors := make([]model.Color, len(t.Colors))
	for i, c := range t.Colors {
		colors[i] = c.Clamp()
	}
	s.themes[t.Name] = model.Theme{Name: t.Name, Colors: colors}
}

// Get returns the named theme
func (s *ThemeSet) Get(name string) (model.Theme, bool) {
	t, ok := s.themes[name]
	return t, ok
}

// Names returns theme names in display order
func (s *ThemeSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Resolve returns the named theme, falling back to the default theme
func (s *ThemeSet) Resolve(name string) model.Theme {
	if t, ok := s.themes[name]; ok {
		return t
	}
	return s.themes[DefaultThemeName]
}

type themeFile struct {
	Themes []themeDocument `toml:"theme"`
}

type themeDocument struct {
	Name   string      `toml:"name"`
	Colors [][]float64 `toml:"colors"`
}

// LoadThemes returns the built-in themes extended by the palettes in a TOML
// file. A theme with a built-in name replaces it. An empty path or missing
// file yields only the built-ins.
//
//	[[theme]]
//	name = "Midnight"
//	colors = [[0.1, 0.1, 0.2, 1.0], [0.2, 0.2, 0.3, 1.0]]
func LoadThemes(path string) (*ThemeSet, error) {
	set := BuiltinThemes()
	if path == "" {
		return set, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return set, nil
	}

	var file themeFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return set, fmt.Errorf("failed to decode themes file: %w", err)
	}

	for _, doc := range file.Themes {
		if doc.Name == "" {
			return set, fmt.Errorf("theme without a name in %s", path)
		}
		theme := model.Theme{Name: doc.Name}
		for i, c := range doc.Colors {
			if len(c) != 4 {
				return set, fmt.Errorf("theme %q colour %d: want 4 components, got %d", doc.Name, i, len(c))
			}
			theme.Colors = append(theme.Colors, model.Color{c[0], c[1], c[2], c[3]})
		}
		set.add(theme)
	}
	return set, nil
}
