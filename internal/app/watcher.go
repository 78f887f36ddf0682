package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/arloliu/go-kiosk/config"
	"github.com/arloliu/go-kiosk/logger"
	"github.com/fsnotify/fsnotify"
)

type reloadFunc func(ctx context.Context, cfg *config.Config) error

// configWatcher reloads the configuration file when it changes on disk.
type configWatcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   logger.Logger
}

func newConfigWatcher(path string, debounce time.Duration, l logger.Logger) (*configWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// editors replace the file, so watch its directory
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &configWatcher{path: absPath, debounce: debounce, watcher: watcher, logger: l}, nil
}

// run blocks until ctx is done. Bursts of file events result in a single reload.
func (w *configWatcher) run(ctx context.Context, reload reloadFunc) error {
	defer w.close()

	w.logger.Info("watching configuration file", "path", w.path)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug("configuration file changed", "op", event.Op.String())
				debounce = time.After(w.debounce)
			}

		case <-debounce:
			debounce = nil
			w.reload(ctx, reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("configuration watcher error", "error", err)
		}
	}
}

func (w *configWatcher) close() {
	if err := w.watcher.Close(); err != nil {
		w.logger.Debug("failed to close file watcher", "error", err)
	}
}

func (w *configWatcher) reload(ctx context.Context, reload reloadFunc) {
	cfg, err := config.Read(w.path)
	if err != nil {
		w.logger.Error("failed to load configuration, keep current session", "path", w.path, "error", err)
		return
	}

	if err := reload(ctx, cfg); err != nil {
		w.logger.Error("failed to apply configuration, keep current session", "error", err)
	}
}
