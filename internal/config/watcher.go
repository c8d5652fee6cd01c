package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Knobs are the hot-reloadable tuning values. Hot reload never changes the
// expert group set, agent wiring, or service endpoints; those require a
// restart.
type Knobs struct {
	Routing RoutingConfig
	Breaker BreakerConfig
}

// KnobsHandler is called with the new knobs after a successful reload.
type KnobsHandler func(Knobs)

// Watcher hot-reloads tuning knobs when the config file changes on disk.
type Watcher struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	mu       sync.Mutex
	handlers []KnobsHandler
	started  bool
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		path:    path,
		logger:  logger,
		watcher: fsw,
		stopCh:  make(chan struct{}),
	}, nil
}

// OnChange registers a handler invoked after each successful knob reload.
func (w *Watcher) OnChange(h KnobsHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins watching the config file's directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	// Watch the directory: editors replace files on save, which drops
	// per-file watches.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.loop()
	w.logger.Info("Configuration watcher started", zap.String("path", w.path))
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	close(w.stopCh)
	_ = w.watcher.Close()
	w.started = false
	w.logger.Info("Configuration watcher stopped")
}

func (w *Watcher) loop() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Config watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Small delay to handle rapid successive writes
			time.Sleep(50 * time.Millisecond)
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// A bad edit must never take down a running router.
		w.logger.Error("Config reload rejected", zap.Error(err))
		return
	}

	knobs := Knobs{Routing: cfg.Routing, Breaker: cfg.Breaker}

	w.mu.Lock()
	handlers := make([]KnobsHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		h(knobs)
	}

	w.logger.Info("Configuration knobs reloaded",
		zap.String("strategy", knobs.Routing.Strategy),
		zap.Float64("embedding_gap", knobs.Routing.EmbeddingGap),
		zap.Float64("keyword_gap", knobs.Routing.KeywordGap),
		zap.Float64("breaker_threshold", knobs.Breaker.Threshold),
	)
}
