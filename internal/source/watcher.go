package source

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("source watcher is closed")

// Event represents a source file change.
type Event struct {
	// Path is the absolute path to the changed file.
	Path string

	// Time is when the change was observed.
	Time time.Time
}

// Handler is called when a watched file changes.
type Handler func(Event)

// Watcher monitors Lua source files for edits. It is used to invalidate the
// parse cache and, when automatic reload-on-continue is disabled, to let the
// restart controller wait until an external tool or editor has written the
// file before retrying.
//
// Editors typically replace files via rename; the watcher therefore watches
// the containing directory and filters by file name.
type Watcher struct {
	mu       sync.Mutex
	fs       *fsnotify.Watcher
	files    map[string]bool
	dirs     map[string]int
	handlers []Handler
	waiters  map[string][]chan Event
	closed   bool
	done     chan struct{}
}

// NewWatcher creates a watcher. Call Close to release it.
func NewWatcher() (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:      fs,
		files:   make(map[string]bool),
		dirs:    make(map[string]int),
		waiters: make(map[string][]chan Event),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Add starts watching a file.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	if w.files[abs] {
		return nil
	}
	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[abs] = true
	return nil
}

// Remove stops watching a file.
func (w *Watcher) Remove(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[abs] {
		return
	}
	delete(w.files, abs)
	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		_ = w.fs.Remove(dir)
	}
}

// OnChange registers a handler invoked for every watched-file change.
func (w *Watcher) OnChange(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Wait blocks until the file changes or the context is done. The file is
// added to the watch set if it is not already watched.
func (w *Watcher) Wait(ctx context.Context, path string) (Event, error) {
	if err := w.Add(path); err != nil {
		return Event{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Event{}, err
	}
	ch := make(chan Event, 1)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Event{}, ErrWatcherClosed
	}
	w.waiters[abs] = append(w.waiters[abs], ch)
	w.mu.Unlock()

	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		w.dropWaiter(abs, ch)
		return Event{}, ctx.Err()
	case <-w.done:
		return Event{}, ErrWatcherClosed
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()
	return w.fs.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			w.dispatch(abs)
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) dispatch(abs string) {
	w.mu.Lock()
	if !w.files[abs] {
		w.mu.Unlock()
		return
	}
	event := Event{Path: abs, Time: time.Now()}
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	waiters := w.waiters[abs]
	delete(w.waiters, abs)
	w.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	for _, ch := range waiters {
		ch <- event
	}
}

func (w *Watcher) dropWaiter(abs string, ch chan Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.waiters[abs]
	for i, c := range list {
		if c == ch {
			w.waiters[abs] = append(list[:i], list[i+1:]...)
			break
		}
	}
}
