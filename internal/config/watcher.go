package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/t77yq/tileboard/internal/model"
)

// DefaultDebounce coalesces the burst of events an editor save produces
const DefaultDebounce = 500 * time.Millisecond

// ChangeHandler receives the new document after an external edit
type ChangeHandler func(cfg *model.DashboardConfig)

// Watcher reloads the dashboard document when it changes on disk
type Watcher struct {
	store    *Store
	onChange ChangeHandler
	debounce time.Duration
	logger   *zap.Logger

	fsw      *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewWatcher creates a watcher for the store's file
func NewWatcher(store *Store, onChange ChangeHandler, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		store:    store,
		onChange: onChange,
		debounce: debounce,
		logger:   logger.Named("config-watcher"),
		stopChan: make(chan struct{}),
	}
}

// Start watches the directory holding the document. The directory is
// watched rather than the file so atomic renames are seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(w.store.Path())
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("Watching dashboard config", zap.String("path", w.store.Path()))
	return nil
}

// Stop stops watching and waits for the event loop to exit
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		if w.fsw != nil {
			w.fsw.Close()
		}
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	target := filepath.Clean(w.store.Path())
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		case <-timerC:
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, changed, err := w.store.Reload()
	if err != nil {
		w.logger.Warn("Ignoring dashboard config change", zap.Error(err))
		return
	}
	if !changed {
		w.logger.Debug("Dashboard config unchanged")
		return
	}
	w.logger.Info("Dashboard config changed on disk", zap.Int("widgets", len(cfg.Widgets)))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
