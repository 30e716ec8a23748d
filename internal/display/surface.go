// Package display pushes cached tile values to whatever draws them.
package display

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/model"
)

// SubjectPrefix is prepended to the tile identity for display subjects
const SubjectPrefix = "display."

// Payload is everything a surface needs to draw one tile
type Payload struct {
	Tile        string      `json:"tile"`
	Title       string      `json:"title"`
	Text        string      `json:"text"`
	Color       model.Color `json:"color"`
	Placeholder bool        `json:"placeholder,omitempty"`
	Loading     bool        `json:"loading,omitempty"`
	Stale       bool        `json:"stale,omitempty"`
	Error       string      `json:"error,omitempty"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
}

// Surface draws tiles
type Surface interface {
	SetDisplay(id model.TileID, payload Payload)
}

// SurfaceFunc adapts a function to Surface
type SurfaceFunc func(id model.TileID, payload Payload)

// SetDisplay implements Surface
func (f SurfaceFunc) SetDisplay(id model.TileID, payload Payload) {
	f(id, payload)
}

// Fanout forwards every update to each surface in order
type Fanout []Surface

// SetDisplay implements Surface
func (f Fanout) SetDisplay(id model.TileID, payload Payload) {
	for _, s := range f {
		s.SetDisplay(id, payload)
	}
}

// LogSurface writes tile updates to the log
type LogSurface struct {
	logger *zap.Logger
}

// NewLogSurface creates a surface that logs every update
func NewLogSurface(logger *zap.Logger) *LogSurface {
	return &LogSurface{logger: logger.Named("surface")}
}

// SetDisplay implements Surface
func (s *LogSurface) SetDisplay(id model.TileID, payload Payload) {
	fields := []zap.Field{
		zap.String("tile", id.String()),
		zap.String("title", payload.Title),
		zap.String("text", payload.Text),
	}
	if payload.Stale {
		fields = append(fields, zap.Bool("stale", true))
	}
	if payload.Error != "" {
		fields = append(fields, zap.String("error", payload.Error))
	}
	s.logger.Debug("Tile updated", fields...)
}

// NATSSurface publishes tile updates so an external renderer can draw them
type NATSSurface struct {
	logger *zap.Logger
	nc     *nats.Conn

	mu     sync.Mutex
	failed bool
}

// NewNATSSurface creates a surface publishing on display.<tile>
func NewNATSSurface(nc *nats.Conn, logger *zap.Logger) *NATSSurface {
	return &NATSSurface{
		logger: logger.Named("nats-surface"),
		nc:     nc,
	}
}

// Subject returns the subject updates of id are published on
func Subject(id model.TileID) string {
	return SubjectPrefix + id.String()
}

// SetDisplay implements Surface
func (s *NATSSurface) SetDisplay(id model.TileID, payload Payload) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal payload",
			zap.String("tile", id.String()),
			zap.Error(err))
		return
	}

	err = s.nc.Publish(Subject(id), data)

	// Log a broken connection once, not every second
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if !s.failed {
			s.logger.Error("Failed to publish tile update",
				zap.String("tile", id.String()),
				zap.Error(err))
		}
		s.failed = true
		return
	}
	if s.failed {
		s.logger.Info("Publishing tile updates again")
	}
	s.failed = false
}

func describe(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
