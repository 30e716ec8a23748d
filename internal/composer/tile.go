package composer

import (
	"fmt"
	"time"

	"github.com/t77yq/tileboard/internal/model"
	"github.com/t77yq/tileboard/internal/provider"
	"github.com/t77yq/tileboard/internal/scheduler"
)

// TileRuntime is the live instance of one tile. Placeholders have no provider
// and are never scheduled.
type TileRuntime struct {
	ID       model.TileID
	Spec     model.TileSpec
	Provider provider.Provider
	Cadence  time.Duration
	Color    model.Color
	Handle   *scheduler.TaskHandle
}

// IsPlaceholder reports whether the tile renders a neutral "no data" state
func (t *TileRuntime) IsPlaceholder() bool {
	return t.Provider == nil
}

// Kind returns the resolved kind of the tile
func (t *TileRuntime) Kind() model.TileKind {
	return t.ID.Kind
}

func placeholder(position int, color model.Color) *TileRuntime {
	return &TileRuntime{
		ID: model.TileID{Kind: model.KindEmpty, Position: position},
		Spec: model.TileSpec{
			Type:     model.KindEmpty.String(),
			Position: position,
			Color:    color,
		},
		Color: color,
	}
}

// WarningReason classifies a layout resolution problem
type WarningReason string

const (
	ReasonCollision           WarningReason = "position_collision"
	ReasonOutOfRange          WarningReason = "position_out_of_range"
	ReasonUnknownKind         WarningReason = "unknown_kind"
	ReasonProviderUnavailable WarningReason = "provider_unavailable"
	ReasonRegistrationFailed  WarningReason = "registration_failed"
)

// LayoutWarning is a configuration integrity problem resolved by substituting
// a placeholder or ignoring a widget. It never aborts a build.
type LayoutWarning struct {
	Position int
	Type     string
	Index    int
	Reason   WarningReason
	Detail   string
}

func (w LayoutWarning) Error() string {
	msg := fmt.Sprintf("widget %d (%q at position %d): %s", w.Index, w.Type, w.Position, w.Reason)
	if w.Detail != "" {
		msg += ": " + w.Detail
	}
	return msg
}
