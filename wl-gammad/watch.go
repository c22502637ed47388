package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pgaskin/gammad/config"
)

// reloadDelay coalesces the events from editors which write files in multiple
// steps.
const reloadDelay = 250 * time.Millisecond

// watch calls reload with the new config whenever the file at path is written
// until ctx is canceled. Invalid configs are logged and ignored.
func watch(ctx context.Context, path string, logger *slog.Logger, reload func(*config.Config)) {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watcher: failed to watch config: create watcher", "error", err)
		return
	}
	defer watcher.Close()

	// watch the directory since the file may be replaced or not exist yet
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("watcher: failed to watch config: update watcher", "error", err)
		return
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == path && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)) {
				logger.Debug("watcher: config changed", "op", event.Op)
				pending = time.After(reloadDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher: warning", "error", err)

		case <-pending:
			pending = nil
			cfg, err := config.Load(path)
			if err != nil {
				logger.Warn("watcher: ignoring invalid config", "error", err)
				continue
			}
			reload(cfg)
		}
	}
}
