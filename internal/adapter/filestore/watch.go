package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/snapshot-reconciler/internal/domain"
	"github.com/fsnotify/fsnotify"
)

// Watch signals whenever a file matching pattern is created or written in
// the data directory. A pending signal absorbs later ones. Watching stops
// when ctx is done; the channel is never closed.
func (s *Store) Watch(ctx context.Context, pattern domain.SnapshotPattern) (<-chan struct{}, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Info("watching data directory for snapshots", "dir", s.dir)

	wake := make(chan struct{}, 1)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if _, ok := pattern.Match(filepath.Base(event.Name)); !ok {
					continue
				}
				s.logger.Debug("snapshot changed", "file", event.Name, "op", event.Op.String())
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Error("snapshot watcher error", "error", err, "dir", s.dir)
			}
		}
	}()
	return wake, nil
}
