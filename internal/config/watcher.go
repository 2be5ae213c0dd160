package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a daem0nmcp.yaml file for changes and re-runs Load,
// handing the freshly parsed Config to onReload. It watches the file's
// parent directory rather than the file itself, since editors and
// deployment tooling commonly replace a config file via rename rather than
// an in-place write, which fsnotify would otherwise miss.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	path    string

	debounceDur time.Duration
	pending     bool
	lastEvent   time.Time

	onReload func(*Config)

	stopCh chan struct{}
	doneCh chan struct{}

	running bool
}

// NewWatcher creates a Watcher for the config file at path. onReload is
// called with the newly loaded Config each time the file settles after a
// change; a reload that fails to read or parse is dropped without calling
// onReload, so the previous Config remains in effect.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     w,
		path:        path,
		debounceDur: 300 * time.Millisecond,
		onReload:    onReload,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine. Non-blocking.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	go w.run()
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.lastEvent = time.Now()
			w.mu.Unlock()

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

		case <-ticker.C:
			w.maybeReload()
		}
	}
}

func (w *Watcher) maybeReload() {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastEvent) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		return
	}
	w.onReload(cfg)
}
