package model

import (
	"fmt"
	"strconv"
	"strings"
)

// TileKind identifies which data source backs a tile
type TileKind int

const (
	KindUnknown TileKind = iota
	KindEmpty
	KindWeather
	KindQuote
	KindFinance
	KindSystemMetrics
	KindNews
	KindCalendar
	KindClock
)

var kindNames = map[TileKind]string{
	KindUnknown:       "unknown",
	KindEmpty:         "empty",
	KindWeather:       "weather",
	KindQuote:         "quote",
	KindFinance:       "finance",
	KindSystemMetrics: "system_monitor",
	KindNews:          "news",
	KindCalendar:      "calendar",
	KindClock:         "clock",
}

var kindAliases = map[string]TileKind{
	"":               KindEmpty,
	"none":           KindEmpty,
	"empty":          KindEmpty,
	"weather":        KindWeather,
	"quote":          KindQuote,
	"finance":        KindFinance,
	"system_monitor": KindSystemMetrics,
	"system-metrics": KindSystemMetrics,
	"system_metrics": KindSystemMetrics,
	"news":           KindNews,
	"calendar":       KindCalendar,
	"clock":          KindClock,
}

// String returns the canonical persisted name of the kind
func (k TileKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseTileKind resolves a persisted type name. Unrecognised names yield KindUnknown.
func ParseTileKind(name string) TileKind {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k
	}
	return KindUnknown
}

// Kinds returns every selectable kind in editor order
func Kinds() []TileKind {
	return []TileKind{
		KindWeather,
		KindSystemMetrics,
		KindQuote,
		KindFinance,
		KindNews,
		KindCalendar,
		KindClock,
		KindEmpty,
	}
}

// PinnedPosition marks a kind-only tile identity
const PinnedPosition = -1

// TileID is the stable identity of a tile across rebuilds
type TileID struct {
	Kind     TileKind
	Position int
}

// PinnedID returns the kind-only identity used for tiles that exist once
func PinnedID(kind TileKind) TileID {
	return TileID{Kind: kind, Position: PinnedPosition}
}

// IsPinned reports whether the identity is kind-only
func (id TileID) IsPinned() bool {
	return id.Position == PinnedPosition
}

func (id TileID) String() string {
	if id.IsPinned() {
		return id.Kind.String()
	}
	return fmt.Sprintf("%s@%d", id.Kind, id.Position)
}

// ParseTileID parses the String form of a TileID ("weather@0", "clock")
func ParseTileID(s string) (TileID, error) {
	name, pos, found := strings.Cut(strings.TrimSpace(s), "@")
	kind := ParseTileKind(name)
	if kind == KindUnknown {
		return TileID{}, fmt.Errorf("unknown tile kind %q", name)
	}
	if !found {
		return PinnedID(kind), nil
	}
	p, err := strconv.Atoi(pos)
	if err != nil || p < 0 {
		return TileID{}, fmt.Errorf("invalid tile position %q", pos)
	}
	return TileID{Kind: kind, Position: p}, nil
}

// Color is a normalised RGBA colour
type Color [4]float64

// Clamp limits every component to 0..1
func (c Color) Clamp() Color {
	for i, v := range c {
		switch {
		case v < 0:
			c[i] = 0
		case v > 1:
			c[i] = 1
		}
	}
	return c
}

// DefaultTileColor is used for slots created by the editor without a theme
var DefaultTileColor = Color{0.2, 0.4, 0.6, 1}

// TileSpec is the declarative description of one configured tile
type TileSpec struct {
	Type     string            `json:"type"`
	Position int               `json:"position"`
	Enabled  bool              `json:"enabled"`
	Color    Color             `json:"color"`
	Params   map[string]string `json:"params,omitempty"`
}

// Kind resolves the persisted type name
func (s TileSpec) Kind() TileKind {
	return ParseTileKind(s.Type)
}

// Param returns a kind-specific parameter or def when unset
func (s TileSpec) Param(key, def string) string {
	if v, ok := s.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// Clone returns a deep copy of the spec
func (s TileSpec) Clone() TileSpec {
	out := s
	out.Params = nil
	if len(s.Params) > 0 {
		out.Params = make(map[string]string, len(s.Params))
		for k, v := range s.Params {
			out.Params[k] = v
		}
	}
	return out
}
