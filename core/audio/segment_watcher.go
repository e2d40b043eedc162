package audio

import (
	"context"
	"path/filepath"
	"strings"

	"tunevault/logger"

	"github.com/fsnotify/fsnotify"
)

// SegmentFunc is told about each segment file ffmpeg creates.
type SegmentFunc func(name string)

// WatchSegments reports every new .ts file in dir until ctx ends. It returns
// once the watcher is set up; the returned channel closes when watching stops.
func WatchSegments(ctx context.Context, dir string, fn SegmentFunc) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		defer watcher.Close()

		seen := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) {
					continue
				}
				name := filepath.Base(event.Name)
				if !strings.HasSuffix(name, ".ts") || seen[name] {
					continue
				}
				seen[name] = true
				fn(name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("segment watcher error", logger.String("dir", dir), logger.ErrorField(err))
			}
		}
	}()
	return stopped, nil
}
