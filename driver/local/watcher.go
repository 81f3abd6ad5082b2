package local

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fsWatcher narrows fsnotify.Watcher to what Watch needs.
type fsWatcher interface {
	Add(path string) error
	Close() error
	Events() <-chan fsEvent
	Errors() <-chan error
}

type fsEvent struct {
	Name string
	Op   uint32
}

type fsnotifyWatcher struct {
	watcher   *fsnotify.Watcher
	events    chan fsEvent
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
}

func newFSWatcher() (fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &fsnotifyWatcher{
		watcher: w,
		events:  make(chan fsEvent),
		errors:  make(chan error),
		done:    make(chan struct{}),
	}

	// The consumer may stop reading before the fsnotify channels drain, so
	// every send also selects on done; Close unblocks a parked forwarder.
	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					close(fw.events)
					return
				}
				select {
				case fw.events <- fsEvent{Name: event.Name, Op: uint32(event.Op)}:
				case <-fw.done:
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					close(fw.errors)
					return
				}
				select {
				case fw.errors <- err:
				case <-fw.done:
					return
				}
			case <-fw.done:
				return
			}
		}
	}()

	return fw, nil
}

func (w *fsnotifyWatcher) Add(path string) error {
	return w.watcher.Add(path)
}

func (w *fsnotifyWatcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.watcher.Close()
}

func (w *fsnotifyWatcher) Events() <-chan fsEvent {
	return w.events
}

func (w *fsnotifyWatcher) Errors() <-chan error {
	return w.errors
}
