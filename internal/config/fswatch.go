package config

import "github.com/fsnotify/fsnotify"

// fsnotifyWatcher adapts *fsnotify.Watcher to the FsWatcher interface this
// package depends on, translating fsnotify's richer event type down to
// the one field Watcher needs.
type fsnotifyWatcher struct {
	w      *fsnotify.Watcher
	events chan FsEvent
}

// NewFsnotifyWatcher wraps a real fsnotify watcher.
func NewFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &fsnotifyWatcher{w: w, events: make(chan FsEvent)}
	go fw.pump()
	return fw, nil
}

func (fw *fsnotifyWatcher) pump() {
	defer close(fw.events)
	for ev := range fw.w.Events {
		fw.events <- FsEvent{Name: ev.Name}
	}
}

func (fw *fsnotifyWatcher) Add(path string) error {
	return fw.w.Add(path)
}

func (fw *fsnotifyWatcher) Close() error {
	return fw.w.Close()
}

func (fw *fsnotifyWatcher) Events() <-chan FsEvent {
	return fw.events
}

func (fw *fsnotifyWatcher) Errors() <-chan error {
	return fw.w.Errors
}
