package scanner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces a burst of filesystem events (e.g. a multi-file
// copy) into a single rescan.
const debounceWindow = 2 * time.Second

// WatchFsnotify recursively watches the media root for changes using
// fsnotify and triggers a debounced Rescan. Falls back to polling (Watch)
// if the watcher can't be established — some network shares and overlay
// filesystems don't support inotify.
func (s *Scanner) WatchFsnotify(ctx context.Context, pollInterval time.Duration) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("fsnotify unavailable, falling back to polling", "error", err)
		s.Watch(ctx, pollInterval)
		return
	}
	defer watcher.Close()

	if err := addRecursive(watcher, s.root); err != nil {
		slog.Warn("fsnotify watch setup failed, falling back to polling", "error", err)
		s.Watch(ctx, pollInterval)
		return
	}

	var debounce *time.Timer
	trigger := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) && isDir(ev.Name) {
				if err := watcher.Add(ev.Name); err != nil {
					slog.Debug("fsnotify add failed", "path", ev.Name, "error", err)
				}
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("fsnotify error", "error", err)

		case <-trigger:
			if err := s.Rescan(ctx); err != nil && !errors.Is(err, ErrScanInProgress) {
				slog.Warn("fsnotify-triggered rescan failed", "error", err)
			}
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if werr := watcher.Add(path); werr != nil {
				slog.Debug("fsnotify add failed", "path", path, "error", werr)
			}
		}
		return nil
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
