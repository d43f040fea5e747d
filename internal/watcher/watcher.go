// Package watcher discovers video files in the input tree and feeds them to
// the ingest queue.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/amillerrr/abr-pipeline/internal/metrics"
	"github.com/amillerrr/abr-pipeline/pkg/models"
	"github.com/fsnotify/fsnotify"
)

// Discovery sources reported in metrics.
const (
	SourceWatch  = "watch"
	SourceRescan = "rescan"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
}

// IsVideoFile reports whether path has a recognized video extension.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// Enqueuer accepts discovered paths.
type Enqueuer interface {
	Enqueue(path string) bool
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	root   string
	queue  Enqueuer
	logger *slog.Logger
	fsw    *fsnotify.Watcher
}

// EnsureRoot creates root if it does not exist. It is safe to call repeatedly.
func EnsureRoot(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("%w: failed to create input root: %v", models.ErrWatcher, err)
	}
	return nil
}

// New creates a Watcher on root and registers every existing directory.
func New(root string, queue Enqueuer, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrWatcher, err)
	}

	w := &Watcher{
		root:   filepath.Clean(root),
		queue:  queue,
		logger: logger,
		fsw:    fsw,
	}
	if err := w.addTree(w.root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree registers dir and all of its subdirectories with the notifier.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("%w: %v", models.ErrWatcher, err)
			}
			w.logger.Warn("Skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			if path == dir {
				return fmt.Errorf("%w: watch %s: %v", models.ErrWatcher, path, err)
			}
			metrics.WatcherErrors.Inc()
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// Rescan enqueues every video file already present under root. It returns
// the number of paths newly added to the queue.
func (w *Watcher) Rescan() (int, error) {
	return w.scan(w.root, SourceRescan)
}

func (w *Watcher) scan(dir, source string) (int, error) {
	added := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn("Skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != dir && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.offer(path, source) {
			added++
		}
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("%w: scan %s: %v", models.ErrWatcher, dir, err)
	}
	return added, nil
}

func (w *Watcher) offer(path, source string) bool {
	if isHidden(filepath.Base(path)) || !IsVideoFile(path) {
		return false
	}
	if !w.queue.Enqueue(path) {
		return false
	}
	metrics.FilesDiscovered.WithLabelValues(source).Inc()
	w.logger.Info("Discovered video file", "path", path, "source", source)
	return true
}

// Run processes notifier events until ctx is done. Notifier errors are
// logged and counted but never stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.logger.Info("Watching input directory", "path", w.root)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher stopped", "path", w.root)
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			metrics.WatcherErrors.Inc()
			w.logger.Error("Watcher error", "error", fmt.Errorf("%w: %v", models.ErrWatcher, err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("Failed to stat created path", "path", event.Name, "error", err)
		}
		return
	}

	if info.IsDir() {
		if isHidden(info.Name()) {
			return
		}
		if err := w.addTree(event.Name); err != nil {
			metrics.WatcherErrors.Inc()
			w.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
			return
		}
		// Files may land in the directory before the watch is registered.
		if _, err := w.scan(event.Name, SourceWatch); err != nil {
			w.logger.Warn("Failed to scan new directory", "path", event.Name, "error", err)
		}
		return
	}

	w.offer(event.Name, SourceWatch)
}

// Close releases the notifier without running the event loop.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
