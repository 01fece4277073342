package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a rule set file into an engine whenever the file changes.
// A reload that fails to parse keeps the previous set active.
type Watcher struct {
	engine  *Engine
	path    string
	log     *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the ruleset file's directory. Watching the
// directory rather than the file survives editors that replace the file by
// rename.
func NewWatcher(engine *Engine, path string, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating ruleset watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching ruleset directory: %w", err)
	}
	return &Watcher{engine: engine, path: path, log: log, watcher: fsw}, nil
}

// Run blocks, applying reloads until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			rs, err := Load(w.path)
			if err != nil {
				w.log.Warn("ruleset reload failed, keeping previous set",
					"path", w.path, "error", err)
				continue
			}
			w.engine.Swap(rs)
			w.log.Info("ruleset reloaded",
				"path", w.path, "version", rs.Version, "digest", rs.Digest)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("ruleset watcher error", "error", err)
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
