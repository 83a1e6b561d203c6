package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Start watches the directory tree and reloads formula files as they change.
// The watch is registered before Start returns. It runs until ctx is done or
// Close is called.
func (l *Loader) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := addDirs(watcher, l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}

	l.watcher = watcher
	l.done = make(chan struct{})
	go l.run(ctx)

	l.log.Infof("Started watching for formula file changes in %s", l.dir)
	return nil
}

// Close stops the watcher and waits for the event loop to exit
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	<-l.done
	return err
}

func (l *Loader) run(ctx context.Context) {
	defer close(l.done)

	pending := make(map[string]struct{})
	var flush <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			// also watch new directories
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					l.log.Debugf("New directory: %s", event.Name)
					if err := addDirs(l.watcher, event.Name); err != nil {
						l.log.Warnf("Error watching new directory %s: %v", event.Name, err)
					}
					if _, err := l.loadTree(ctx, event.Name); err != nil {
						l.log.Warnf("Failed to load formulas in %s: %v", event.Name, err)
					}
					continue
				}
			}

			if !IsFormulaFile(event.Name) || event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			pending[event.Name] = struct{}{}
			if flush == nil {
				flush = time.After(l.debounce)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Warnf("Watcher error: %v", err)

		case <-flush:
			flush = nil
			for path := range pending {
				l.log.Debugf("Formula file changed: %s", path)
				l.sync(ctx, path)
				delete(pending, path)
			}
		}
	}
}

// addDirs recursively adds all directories under root to the watcher
func addDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
