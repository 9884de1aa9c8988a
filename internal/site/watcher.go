package site

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/roelfdiedericks/chatrelay/internal/logging"
)

// Watcher reloads a YAML profile file when it changes on disk and hands the
// new profile to onChange. Invalid edits are logged and ignored; the last good
// profile stays in effect.
type Watcher struct {
	watcher      *fsnotify.Watcher
	path         string
	base         string
	debounce     time.Duration
	onChange     func(*Profile)
	stopCh       chan struct{}
	doneCh       chan struct{}
	mu           sync.Mutex
	pendingTimer *time.Timer
	started      bool
	stopped      bool
}

// NewWatcher creates a watcher for the profile at path. base is the fallback
// builtin passed to LoadFile.
func NewWatcher(path, base string, debounce time.Duration, onChange func(*Profile)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("site: resolve %s: %w", path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors often replace the file via rename
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("site: watch %s: %w", filepath.Dir(abs), err)
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		watcher:  fsWatcher,
		path:     abs,
		base:     base,
		debounce: debounce,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	L_debug("site: watching profile", "path", w.path)
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.triggerReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("site: watcher error", "error", err)
		}
	}
}

// triggerReload schedules a reload with debouncing.
func (w *Watcher) triggerReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	w.pendingTimer = nil
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	p, err := LoadFile(w.path, w.base)
	if err != nil {
		L_warn("site: profile reload rejected, keeping previous", "path", w.path, "error", err)
		return
	}
	L_info("site: profile reloaded", "name", p.Name, "path", w.path)
	if w.onChange != nil {
		w.onChange(p)
	}
}

// Stop stops watching for changes.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.mu.Unlock()

	close(w.stopCh)
	err := w.watcher.Close()
	if started {
		<-w.doneCh
	}
	return err
}
