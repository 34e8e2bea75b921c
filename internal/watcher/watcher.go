// Package watcher detects deletion of the backing database file so the
// service can recreate its datastore instead of writing into a removed inode.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const (
	debounce     = 100 * time.Millisecond
	rewatchDelay = 500 * time.Millisecond
)

// Watcher monitors one path for deletion and invokes onDelete when it goes
// away. The parent directory is watched, since fsnotify cannot track a path
// that no longer exists.
type Watcher struct {
	target   string
	parent   string
	onDelete func()
	fsw      *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// New creates a watcher for target. onDelete fires after the target (or its
// parent directory) is removed and stays removed past a short debounce.
func New(target string, onDelete func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		target:   filepath.Clean(target),
		parent:   filepath.Dir(target),
		onDelete: onDelete,
		fsw:      fsw,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins watching. Calling Start twice is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		// The parent may appear later; the loop re-establishes the watch.
		log.Warn().Err(err).Str("path", w.parent).Msg("Failed to add initial watch")
	}

	go w.loop()
	return nil
}

// Stop stops the watcher and releases the underlying fsnotify resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.fsw.Close()
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parent); err != nil {
		return err
	}
	return w.fsw.Add(w.parent)
}

func (w *Watcher) loop() {
	var fire *time.Timer
	stopTimer := func() {
		if fire != nil {
			fire.Stop()
		}
	}

	for {
		select {
		case <-w.ctx.Done():
			stopTimer()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)

			switch {
			case event.Op&fsnotify.Remove != 0 && (path == w.target || path == w.parent):
				log.Info().Str("path", path).Msg("Watched path removed")
				stopTimer()
				fire = time.AfterFunc(debounce, w.fireDeletion)

			case event.Op&fsnotify.Create != 0 && path == w.target:
				// Recreated within the debounce window; nothing vanished.
				stopTimer()

			case event.Op&fsnotify.Create != 0 && path == w.parent:
				log.Info().Str("path", w.parent).Msg("Parent directory recreated, re-establishing watch")
				if err := w.addWatch(); err != nil {
					log.Warn().Err(err).Str("path", w.parent).Msg("Failed to re-establish watch")
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) fireDeletion() {
	log.Info().Str("path", w.target).Msg("Triggering deletion callback")
	if w.onDelete != nil {
		w.onDelete()
	}

	// The callback usually recreates the target; re-establish the watch once
	// the dust settles.
	go func() {
		time.Sleep(rewatchDelay)
		if err := w.addWatch(); err != nil {
			log.Warn().Err(err).Str("path", w.parent).Msg("Failed to re-establish watch after deletion")
		}
	}()
}
