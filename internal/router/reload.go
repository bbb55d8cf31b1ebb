package router

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchRulesFile watches the directory containing the router's rules
// file and reloads on any write/create/rename targeting that file,
// since editors commonly replace a file via rename rather than an
// in-place write (fsnotify would miss a direct watch on the file
// itself across such a replacement).
func watchRulesFile(ctx context.Context, r *Router) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("router: failed to start rules file watcher", slog.String("error", err.Error()))
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(r.rulesPath)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("router: failed to watch rules directory", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}

	target := filepath.Clean(r.rulesPath)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				slog.Warn("router: failed to reload rules file", slog.String("path", r.rulesPath), slog.String("error", err.Error()))
			} else {
				slog.Info("router: reloaded routing rules", slog.String("path", r.rulesPath))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("router: rules watcher error", slog.String("error", err.Error()))
		}
	}
}
