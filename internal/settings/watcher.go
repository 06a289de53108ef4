package settings

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the settings file on change and swaps the holder's
// snapshot. Invalid files are logged and skipped; the last good snapshot
// stays active.
type Watcher struct {
	path   string
	holder *Holder
	logger *logrus.Logger
}

// NewWatcher creates a watcher for the given settings file.
func NewWatcher(path string, holder *Holder, logger *logrus.Logger) *Watcher {
	return &Watcher{path: path, holder: holder, logger: logger}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// editors that replace the file (rename-over) still produce events.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("resolve settings path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch settings directory: %w", err)
	}

	w.logger.WithField("path", abs).Info("watching runtime settings")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("settings watcher error")
		}
	}
}

func (w *Watcher) reload() {
	s, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("ignoring invalid settings file, keeping last good snapshot")
		return
	}
	w.holder.Replace(s.Snapshot())
	w.logger.Info("runtime settings reloaded")
}
