package server

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ArtifactEvent reports a change to a pipeline output file.
type ArtifactEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // created, modified, deleted, renamed
	Time      time.Time `json:"time"`
}

// artifactWatcher follows an output tree. fsnotify is not recursive, so new
// directories are added as they appear.
type artifactWatcher struct {
	watcher *fsnotify.Watcher
	Events  chan ArtifactEvent
	log     *slog.Logger
	done    chan struct{}
}

func newArtifactWatcher(root string, log *slog.Logger) (*artifactWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &artifactWatcher{
		watcher: watcher,
		Events:  make(chan ArtifactEvent, 100),
		log:     log,
		done:    make(chan struct{}),
	}
	if err := w.addTree(root); err != nil {
		watcher.Close()
		return nil, err
	}
	go w.processEvents()
	return w, nil
}

func (w *artifactWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// Stop ends watching and closes Events.
func (w *artifactWatcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *artifactWatcher) processEvents() {
	defer close(w.Events)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			var operation string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "created"
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.log.Warn("cannot watch directory", "path", event.Name, "error", err)
					}
					continue
				}
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "modified"
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				operation = "deleted"
			case event.Op&fsnotify.Rename == fsnotify.Rename:
				operation = "renamed"
			default:
				continue
			}
			if !isArtifact(event.Name) {
				continue
			}
			select {
			case w.Events <- ArtifactEvent{Path: event.Name, Operation: operation, Time: time.Now()}:
			default:
				w.log.Warn("artifact event buffer full, dropping event", "path", event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("artifact watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func isArtifact(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".kmz", ".geojson", ".json":
		return true
	}
	return false
}
