package prompt

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"loremaster/internal/logging"
)

const watchDebounce = 200 * time.Millisecond

// StoreWatcher reloads the layer store and invalidates the assembler cache
// when the store file is edited outside the process.
type StoreWatcher struct {
	fsWatcher *fsnotify.Watcher
	store     *LayerStore
	assembler *Assembler
	done      chan struct{}
	stopOnce  sync.Once
}

// WatchStore starts watching the store's directory. Editors replace files
// by rename, so the directory is watched and events filtered by name.
func WatchStore(store *LayerStore, assembler *Assembler) (*StoreWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsWatcher.Add(filepath.Dir(store.Path())); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &StoreWatcher{
		fsWatcher: fsWatcher,
		store:     store,
		assembler: assembler,
		done:      make(chan struct{}),
	}
	go w.processEvents()
	return w, nil
}

// Stop stops the watcher.
func (w *StoreWatcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	return w.fsWatcher.Close()
}

func (w *StoreWatcher) processEvents() {
	target := filepath.Clean(w.store.Path())
	var timer *time.Timer

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Debounce bursts from editors that write in several steps.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, w.reload)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("layer store watcher error", "error", err)
		}
	}
}

func (w *StoreWatcher) reload() {
	if err := w.store.Reload(); err != nil {
		logging.Warn("layer store reload failed", "error", err)
		return
	}
	w.assembler.Invalidate()
	logging.Info("layer store reloaded after external edit", "path", w.store.Path())
}
