package daemon

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileEvent is a change to the database file or one of its sidecars.
type FileEvent struct {
	Path string
	Op   fsnotify.Op
}

func (e FileEvent) String() string {
	return e.Op.String() + " " + filepath.Base(e.Path)
}

// DBWatcher reports writes to a SQLite database made by any process.
//
// SQLite creates, truncates and removes its -wal, -shm and -journal files,
// so the watch is on the directory and events are filtered by name.
type DBWatcher struct {
	fs    *fsnotify.Watcher
	names map[string]bool

	events chan FileEvent
	errs   chan error
	quit   chan struct{}
	loop   sync.WaitGroup
	once   sync.Once
}

// WatchDatabase starts watching dbPath. The directory must exist.
func WatchDatabase(dbPath string) (*DBWatcher, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dbPath, err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	base := filepath.Base(abs)
	w := &DBWatcher{
		fs:     fs,
		names:  map[string]bool{base: true},
		events: make(chan FileEvent, 64),
		errs:   make(chan error, 8),
		quit:   make(chan struct{}),
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		w.names[base+suffix] = true
	}

	w.loop.Add(1)
	go w.run()
	return w, nil
}

// Events is closed by Close.
func (w *DBWatcher) Events() <-chan FileEvent { return w.events }

// Errors is closed by Close.
func (w *DBWatcher) Errors() <-chan error { return w.errs }

// Close stops the watch and waits for the event loop. It is safe to call
// more than once.
func (w *DBWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.quit)
		if cerr := w.fs.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
		w.loop.Wait()
		close(w.events)
		close(w.errs)
	})
	return err
}

const watchedOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

func (w *DBWatcher) run() {
	defer w.loop.Done()
	for {
		select {
		case <-w.quit:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&watchedOps == 0 || !w.names[filepath.Base(ev.Name)] {
				continue
			}
			select {
			case w.events <- FileEvent{Path: ev.Name, Op: ev.Op}:
			case <-w.quit:
				return
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			case <-w.quit:
				return
			}
		}
	}
}
