package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/model"
)

// document mirrors the persisted JSON with optional fields so missing keys
// can fall back to built-in defaults
type document struct {
	Theme    *string           `json:"theme"`
	Widgets  []widgetDocument  `json:"widgets"`
	Settings *settingsDocument `json:"settings"`
}

type widgetDocument struct {
	Type     *string           `json:"type"`
	Position *int              `json:"position"`
	Enabled  *bool             `json:"enabled"`
	Color    []float64         `json:"color"`
	Params   map[string]string `json:"params"`
}

type settingsDocument struct {
	UpdateInterval *int  `json:"update_interval"`
	Fullscreen     *bool `json:"fullscreen"`
	AutoStart      *bool `json:"auto_start"`
}

// Parse decodes a dashboard document. Unknown fields are ignored and missing
// fields take their defaults.
func Parse(data []byte) (*model.DashboardConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrConfigParse)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	cfg := &model.DashboardConfig{
		Theme:    DefaultThemeName,
		Settings: model.DefaultSettings(),
	}
	if doc.Theme != nil && *doc.Theme != "" {
		cfg.Theme = *doc.Theme
	}

	if doc.Widgets == nil {
		cfg.Widgets = DefaultConfig().Widgets
	} else {
		cfg.Widgets = make([]model.TileSpec, 0, len(doc.Widgets))
		for _, w := range doc.Widgets {
			cfg.Widgets = append(cfg.Widgets, w.spec())
		}
	}

	if s := doc.Settings; s != nil {
		if s.UpdateInterval != nil && *s.UpdateInterval > 0 {
			cfg.Settings.UpdateInterval = *s.UpdateInterval
		}
		if s.Fullscreen != nil {
			cfg.Settings.Fullscreen = *s.Fullscreen
		}
		if s.AutoStart != nil {
			cfg.Settings.AutoStart = *s.AutoStart
		}
	}
	return cfg, nil
}

func (w widgetDocument) spec() model.TileSpec {
	spec := model.TileSpec{
		Position: model.PinnedPosition,
		Enabled:  true,
		Color:    model.DefaultTileColor,
	}
	if w.Type != nil {
		spec.Type = *w.Type
	}
	if w.Position != nil {
		spec.Position = *w.Position
	}
	if w.Enabled != nil {
		spec.Enabled = *w.Enabled
	}
	if len(w.Color) == len(spec.Color) {
		copy(spec.Color[:], w.Color)
		spec.Color = spec.Color.Clamp()
	}
	if len(w.Params) > 0 {
		spec.Params = w.Params
	}
	return spec
}

// normalize returns a copy of cfg in the form Parse produces: defaults for an
// empty theme and a non-positive interval, clamped colours, a non-nil widget list
func normalize(cfg *model.DashboardConfig) *model.DashboardConfig {
	out := cfg.Clone()
	if out.Theme == "" {
		out.Theme = DefaultThemeName
	}
	if out.Settings.UpdateInterval <= 0 {
		out.Settings.UpdateInterval = model.DefaultUpdateInterval
	}
	if out.Widgets == nil {
		out.Widgets = []model.TileSpec{}
	}
	for i := range out.Widgets {
		out.Widgets[i].Color = out.Widgets[i].Color.Clamp()
	}
	return out
}

// Marshal encodes a dashboard document the way Save writes it. Parse of the
// result equals the document up to the defaults normalize fills in.
func Marshal(cfg *model.DashboardConfig) ([]byte, error) {
	out := normalize(cfg)
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dashboard config: %w", err)
	}
	return append(data, '\n'), nil
}

// Store owns the persisted dashboard document
type Store struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	current *model.DashboardConfig
}

// NewStore creates a store backed by the file at path
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.Named("config"),
	}
}

// Path returns the location of the persisted document
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted document. A missing or unparsable document is
// replaced by the default one, which is persisted right away. Load never fails.
func (s *Store) Load() *model.DashboardConfig {
	cfg, err := s.read()
	switch {
	case err == nil:
		s.logger.Info("Loaded dashboard config",
			zap.String("path", s.path),
			zap.Int("widgets", len(cfg.Widgets)))
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info("Dashboard config not found, writing defaults", zap.String("path", s.path))
		cfg = DefaultConfig()
		s.persistDefault(cfg)
	case errors.Is(err, ErrConfigParse):
		s.logger.Warn("Dashboard config is unparsable, restoring defaults",
			zap.String("path", s.path),
			zap.Error(err))
		s.backupCorrupt()
		cfg = DefaultConfig()
		s.persistDefault(cfg)
	default:
		s.logger.Error("Failed to read dashboard config, using defaults",
			zap.String("path", s.path),
			zap.Error(err))
		cfg = DefaultConfig()
	}

	s.mu.Lock()
	s.current = cfg.Clone()
	s.mu.Unlock()
	return cfg
}

func (s *Store) read() (*model.DashboardConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (s *Store) persistDefault(cfg *model.DashboardConfig) {
	if err := s.write(cfg); err != nil {
		s.logger.Error("Failed to persist default dashboard config", zap.Error(err))
	}
}

func (s *Store) backupCorrupt() {
	backup := s.path + ".corrupt"
	if err := os.Rename(s.path, backup); err != nil {
		s.logger.Warn("Failed to keep corrupt dashboard config", zap.Error(err))
		return
	}
	s.logger.Info("Kept corrupt dashboard config", zap.String("backup", backup))
}

// Save replaces the whole persisted document atomically
func (s *Store) Save(cfg *model.DashboardConfig) error {
	if cfg == nil {
		return fmt.Errorf("nil dashboard config")
	}
	if err := s.write(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = normalize(cfg)
	s.mu.Unlock()

	s.logger.Info("Saved dashboard config",
		zap.String("path", s.path),
		zap.String("theme", cfg.Theme),
		zap.Int("widgets", len(cfg.Widgets)))
	return nil
}

// write writes a temp file in the same directory, syncs it and renames it over the target
func (s *Store) write(cfg *model.DashboardConfig) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set config file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// Snapshot returns a private copy of the current document
func (s *Store) Snapshot() *model.DashboardConfig {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur == nil {
		return s.Load()
	}
	return cur.Clone()
}

// Update applies fn to a copy of the current document and saves the result
func (s *Store) Update(fn func(cfg *model.DashboardConfig) error) (*model.DashboardConfig, error) {
	cfg := s.Snapshot()
	if err := fn(cfg); err != nil {
		return nil, err
	}
	if err := s.Save(cfg); err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// Reload re-reads the persisted document after an external edit. It reports
// whether the document differs from the one the store last saw. Unparsable
// content is left alone so a half-written edit is not clobbered.
func (s *Store) Reload() (*model.DashboardConfig, bool, error) {
	cfg, err := s.read()
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload dashboard config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Equal(cfg) {
		return cfg, false, nil
	}
	s.current = cfg.Clone()
	return cfg, true, nil
}
