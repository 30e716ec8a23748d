package config

import (
	"fmt"

	"github.com/t77yq/tileboard/internal/model"
)

// colorCycle is the palette CycleColor steps through
var colorCycle = []model.Color{
	{0.2, 0.4, 0.6, 1},
	{0.3, 0.6, 0.3, 1},
	{0.6, 0.5, 0.8, 1},
	{0.2, 0.3, 0.4, 1},
	{0.6, 0.3, 0.3, 1},
	{0.3, 0.3, 0.6, 1},
}

// Editor implements the configuration editor operations on a document.
// Every method mutates the document passed in; callers persist it with Store.Update.
type Editor struct {
	Slots  int
	Themes *ThemeSet
}

// NewEditor creates an editor for a grid with the given number of slots
func NewEditor(slots int, themes *ThemeSet) *Editor {
	if slots <= 0 {
		slots = DefaultGridSlots
	}
	if themes == nil {
		themes = BuiltinThemes()
	}
	return &Editor{Slots: slots, Themes: themes}
}

func (e *Editor) checkPosition(position int) error {
	if position < 0 || position >= e.Slots {
		return fmt.Errorf("%w: %d (grid has %d slots)", ErrPositionOutOfRange, position, e.Slots)
	}
	return nil
}

// WidgetAt returns the first widget at position in document order, enabled or not
func WidgetAt(cfg *model.DashboardConfig, position int) *model.TileSpec {
	for i := range cfg.Widgets {
		if cfg.Widgets[i].Position == position {
			return &cfg.Widgets[i]
		}
	}
	return nil
}

// Enabled returns the enabled widgets in document order
func Enabled(cfg *model.DashboardConfig) []model.TileSpec {
	var out []model.TileSpec
	for _, w := range cfg.Widgets {
		if w.Enabled {
			out = append(out, w.Clone())
		}
	}
	return out
}

// SetSlotKind assigns a kind to a slot. "none" disables the slot's widget.
// An unoccupied slot gets a new enabled widget with the default colour.
func (e *Editor) SetSlotKind(cfg *model.DashboardConfig, position int, kindName string) error {
	if err := e.checkPosition(position); err != nil {
		return err
	}
	kind := model.ParseTileKind(kindName)
	if kind == model.KindUnknown {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kindName)
	}

	if w := WidgetAt(cfg, position); w != nil {
		if kind == model.KindEmpty {
			w.Enabled = false
			return nil
		}
		if w.Kind() != kind {
			w.Params = nil
		}
		w.Type = kind.String()
		w.Enabled = true
		return nil
	}

	if kind == model.KindEmpty {
		return nil
	}
	cfg.Widgets = append(cfg.Widgets, model.TileSpec{
		Type:     kind.String(),
		Position: position,
		Enabled:  true,
		Color:    model.DefaultTileColor,
	})
	return nil
}

// ToggleSlot flips the enabled flag of the slot's widget and returns the new state
func (e *Editor) ToggleSlot(cfg *model.DashboardConfig, position int) (bool, error) {
	if err := e.checkPosition(position); err != nil {
		return false, err
	}
	w := WidgetAt(cfg, position)
	if w == nil {
		return false, fmt.Errorf("%w: %d", ErrSlotEmpty, position)
	}
	w.Enabled = !w.Enabled
	return w.Enabled, nil
}

// CycleColor moves the slot's widget to the next colour of the cycle. A colour
// outside the cycle restarts it.
func (e *Editor) CycleColor(cfg *model.DashboardConfig, position int) (model.Color, error) {
	if err := e.checkPosition(position); err != nil {
		return model.Color{}, err
	}
	w := WidgetAt(cfg, position)
	if w == nil {
		return model.Color{}, fmt.Errorf("%w: %d", ErrSlotEmpty, position)
	}

	next := 0
	for i, c := range colorCycle {
		if c == w.Color {
			next = (i + 1) % len(colorCycle)
			break
		}
	}
	w.Color = colorCycle[next]
	return w.Color, nil
}

// SetParam sets a kind-specific parameter on the slot's widget. An empty value removes it.
func (e *Editor) SetParam(cfg *model.DashboardConfig, position int, key, value string) error {
	if err := e.checkPosition(position); err != nil {
		return err
	}
	w := WidgetAt(cfg, position)
	if w == nil {
		return fmt.Errorf("%w: %d", ErrSlotEmpty, position)
	}
	if value == "" {
		delete(w.Params, key)
		if len(w.Params) == 0 {
			w.Params = nil
		}
		return nil
	}
	if w.Params == nil {
		w.Params = make(map[string]string)
	}
	w.Params[key] = value
	return nil
}

// ApplyTheme records the theme and paints its palette over the grid positions
// in order. Unoccupied positions get a weather widget in the theme colour.
func (e *Editor) ApplyTheme(cfg *model.DashboardConfig, name string) error {
	theme, ok := e.Themes.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTheme, name)
	}
	cfg.Theme = theme.Name

	for position := 0; position < e.Slots && position < len(theme.Colors); position++ {
		color := theme.Colors[position]
		if w := WidgetAt(cfg, position); w != nil {
			w.Color = color
			continue
		}
		cfg.Widgets = append(cfg.Widgets, model.TileSpec{
			Type:     model.KindWeather.String(),
			Position: position,
			Enabled:  true,
			Color:    color,
		})
	}
	return nil
}
