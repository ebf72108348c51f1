package history

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 300 * time.Millisecond

// Watcher invalidates the store's listing cache when the history root or
// any run directory changes, so external writes and deletes show up in
// the next listing.
type Watcher struct {
	store     *Store
	fsWatcher *fsnotify.Watcher
	logger    *slog.Logger
	onChange  func()
	cancel    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Watch starts watching the store's root and enables its listing cache.
// onChange, if set, runs after each debounced invalidation.
func Watch(store *Store, onChange func()) (*Watcher, error) {
	if err := os.MkdirAll(store.root, 0o755); err != nil {
		return nil, err
	}
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addRunDirs(fsW, store.root); err != nil {
		fsW.Close()
		return nil, err
	}

	w := &Watcher{
		store:     store,
		fsWatcher: fsW,
		logger:    store.logger.With("component", "history-watcher"),
		onChange:  onChange,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	store.EnableCache()
	go w.loop()
	return w, nil
}

// Close stops the watcher. The store keeps caching, so callers that
// close the watcher early should not keep using the store.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.cancel)
		w.fsWatcher.Close()
		<-w.done
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	var timer *time.Timer

	for {
		select {
		case <-w.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			// New run directories hold the artifacts; watch them too.
			if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(w.store.root) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !isHidden(filepath.Base(event.Name)) {
					w.fsWatcher.Add(event.Name)
				}
			}
			if filepath.Base(event.Name) == lockFileName {
				continue
			}

			// Invalidate right away so a listing never serves a cache older
			// than the event; the debounced callback only notifies.
			w.store.Invalidate()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, w.changed)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("history watcher error", "error", err)
			w.store.Invalidate()
		}
	}
}

func (w *Watcher) changed() {
	w.store.Invalidate()
	if w.onChange != nil {
		w.onChange()
	}
}

// addRunDirs watches root and its direct, non-hidden subdirectories.
func addRunDirs(w *fsnotify.Watcher, root string) error {
	if err := w.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || isHidden(e.Name()) {
			continue
		}
		if err := w.Add(filepath.Join(root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
