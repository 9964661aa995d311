package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/sweeney/flight-computer/internal/log"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// Watcher holds the current configuration and reloads it when the file
// changes. A reload that fails to parse or validate keeps the old config.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	current Config

	listenersMu sync.RWMutex
	listeners   []chan<- Config
}

// NewWatcher creates a watcher for path starting from initial.
func NewWatcher(initial Config, path string) *Watcher {
	return &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		logger:   log.WithComponent("config"),
		current:  initial,
	}
}

// SetDebounce overrides the reload debounce, for tests.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Get returns the current configuration.
func (w *Watcher) Get() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers ch to receive every successfully reloaded config.
// Sends never block; a full channel misses the notification.
func (w *Watcher) Subscribe(ch chan<- Config) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.listeners = append(w.listeners, ch)
}

// Reload re-reads the file and, if valid, swaps it in and notifies
// listeners.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str(log.FieldEvent, "config.reload_failed").
			Msg("keeping previous configuration")
		return err
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.listenersMu.RLock()
	defer w.listenersMu.RUnlock()
	for _, ch := range w.listeners {
		select {
		case ch <- cfg:
		default:
			w.logger.Warn().Str(log.FieldEvent, "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
	w.logger.Info().Str(log.FieldEvent, "config.reload_success").Msg("configuration reloaded")
	return nil
}

// Run watches the file until ctx is cancelled. The directory is watched so
// that editors which replace the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(w.path)
	w.logger.Info().Str(log.FieldEvent, "config.watcher_started").Str("path", w.path).
		Msg("watching config file for changes")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug().Str(log.FieldEvent, "config.file_changed").Str("op", ev.Op.String()).
				Msg("config file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { _ = w.Reload() })

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Str(log.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}
