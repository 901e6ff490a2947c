package sidestore

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/griddash/griddash/internal/model"
)

// selfWriteWindow is how long after one of our own saves a file event
// is assumed to be the echo of that save rather than an external edit.
const selfWriteWindow = time.Second

// fileWatcher invalidates the store's cache when the persisted document
// is modified by another process (a backup restore, a manual edit).
type fileWatcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// Watch starts monitoring the document for external modification.
// It watches the parent directory because the store replaces the file
// by rename, which would drop a watch on the file itself.
func (s *Store) Watch() error {
	if s.watcher != nil {
		return fmt.Errorf("side store is already watching %s", s.path)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch side store directory: %w", err)
	}

	fw := &fileWatcher{
		store:   s,
		watcher: w,
		done:    make(chan struct{}),
	}
	s.watcher = fw

	fw.wg.Add(1)
	go fw.run()
	return nil
}

// Close stops the file watcher if one is running.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	fw := s.watcher
	s.watcher = nil

	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}

func (fw *fileWatcher) run() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(fw.store.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if fw.store.wroteRecently(selfWriteWindow) {
				continue
			}
			fw.store.logger.Printf("External change to %s, reloading", fw.store.path)
			fw.store.invalidate()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.store.logger.Printf("Watcher error: %v", err)
		}
	}
}

// corruptionError wraps a decode failure in the storage corruption
// sentinel so callers can classify it with errors.Is.
func corruptionError(cause error) error {
	return fmt.Errorf("%w: %v", model.ErrStorageCorruption, cause)
}
