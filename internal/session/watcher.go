package session

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ActivityWatcher watches session output files and bumps the owning
// session's last-activity timestamp on writes. Degrades to a no-op
// when the platform watcher cannot be created; the health steward's
// polling still works without it.
type ActivityWatcher struct {
	mgr     *LocalManager
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewActivityWatcher creates a watcher bound to the manager.
func NewActivityWatcher(mgr *LocalManager) (*ActivityWatcher, error) {
	aw := &ActivityWatcher{mgr: mgr, done: make(chan struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - polling fallback still applies
		return aw, nil
	}
	aw.watcher = watcher

	go aw.watch()
	return aw, nil
}

// Watch registers a session's output file. The parent directory is
// watched so the file may not exist yet.
func (aw *ActivityWatcher) Watch(sess *Session) error {
	if aw.watcher == nil || sess.OutputPath == "" {
		return nil
	}
	return aw.watcher.Add(filepath.Dir(sess.OutputPath))
}

// watch maps write events on registered output paths to activity
// updates.
func (aw *ActivityWatcher) watch() {
	for {
		select {
		case <-aw.done:
			return
		case event, ok := <-aw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == 0 && event.Op&fsnotify.Create == 0 {
				continue
			}
			if sess := aw.mgr.SessionByOutputPath(event.Name); sess != nil {
				aw.mgr.RecordActivity(sess.ID)
			}
		case <-aw.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (aw *ActivityWatcher) Close() error {
	var err error
	aw.once.Do(func() {
		close(aw.done)
		if aw.watcher != nil {
			err = aw.watcher.Close()
		}
	})
	return err
}
