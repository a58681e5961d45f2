package assignment

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// Watch reloads the hierarchy file at path into h whenever it changes,
// until ctx is done. The parent directory is watched so that editors which
// replace the file by rename are picked up. A file that fails to parse is
// logged and the previous graph stays in place.
//
// Watch returns once the watcher is running; reloading continues in the
// background.
func Watch(ctx context.Context, path string, h *Hierarchy, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	log := logger.WithField("hierarchy_file", path)
	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(log, "hierarchy watcher")

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				reload(path, h, log)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("hierarchy watcher error")
			}
		}
	}()
	return nil
}

func reload(path string, h *Hierarchy, log *observability.Logger) {
	g, err := LoadGraph(path)
	if err != nil {
		log.WithError(err).WithField("version", h.Graph().Version()).
			Error("hierarchy reload failed, keeping previous graph")
		return
	}
	h.Replace(g)
	log.WithField("version", g.Version()).Info("hierarchy reloaded")
}
