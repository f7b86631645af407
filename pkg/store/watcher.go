package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/logger"
)

// ReloadCallback receives a freshly loaded store after the watched files
// change.
type ReloadCallback func(*QuadStore) error

// Watcher reloads a file-backed store when any of its files changes.
type Watcher struct {
	paths          []string
	loader         *Loader
	watcher        *fsnotify.Watcher
	logger         *zap.SugaredLogger
	mu             sync.Mutex
	callbacks      []ReloadCallback
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
}

// NewWatcher watches paths (files or directories) for writes.
func NewWatcher(paths []string, loader *Loader) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}

	for _, path := range paths {
		// Watch the parent directory of files so editors that replace the
		// file by rename are still seen.
		target := path
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			target = filepath.Dir(path)
		}
		if err := fw.Add(target); err != nil {
			fw.Close()
			return nil, errors.Wrapf(err, "watch %s", target)
		}
	}

	return &Watcher{
		paths:          paths,
		loader:         loader,
		watcher:        fw,
		logger:         logger.ComponentLogger("store.watcher"),
		debouncePeriod: 500 * time.Millisecond,
	}, nil
}

// OnReload registers a callback invoked after every successful reload.
func (w *Watcher) OnReload(callback ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.debounceTimer != nil {
				w.debounceTimer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			w.logger.Infow("store file changed", logger.FieldFile, event.Name, "op", event.Op.String())
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("store watcher error", logger.FieldError, err)
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	for _, path := range w.paths {
		if name == path {
			return true
		}
		if rel, err := filepath.Rel(path, name); err == nil && rel != ".." && !filepath.IsAbs(rel) && len(rel) > 0 && rel[0] != '.' {
			return true
		}
	}
	return false
}

// scheduleReload debounces bursts of events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		if err := w.Reload(); err != nil {
			w.logger.Errorw("store reload failed", logger.FieldError, err)
		}
	})
}

// Reload loads the watched paths and hands the new store to every
// callback.
func (w *Watcher) Reload() error {
	qs, err := w.loader.LoadFiles(w.paths)
	if err != nil {
		return err
	}

	w.mu.Lock()
	callbacks := append([]ReloadCallback(nil), w.callbacks...)
	w.mu.Unlock()

	for _, callback := range callbacks {
		if err := callback(qs); err != nil {
			return errors.Wrap(err, "reload callback")
		}
	}
	return nil
}
