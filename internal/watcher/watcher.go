// Package watcher provides the engine's change sources: a filesystem watcher
// built on fsnotify and a channel-fed source for embedders that already have
// an event stream.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/contextfs/contextfs/pkg/errors"
	"github.com/contextfs/contextfs/pkg/types"
	"github.com/contextfs/contextfs/pkg/utils"
)

// FileWatcher turns fsnotify events under a project root into ChangeEvents.
// Directories are watched recursively; directories created while watching
// are added to the watch set.
type FileWatcher struct {
	root   string
	logger *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	events  chan types.ChangeEvent
	stopCh  chan struct{}
	started bool
	stopped bool
}

// NewFileWatcher creates a watcher for the given project root.
func NewFileWatcher(root string, logger *zap.Logger) (*FileWatcher, error) {
	normalized, err := utils.NormalizePath(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePathInvalid, "invalid watch root", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FileWatcher{
		root:   normalized,
		logger: logger,
		events: make(chan types.ChangeEvent, 256),
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins event delivery.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "watcher already started").
			WithComponent("watcher")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternalError, "failed to create file watcher", err).
			WithComponent("watcher")
	}

	if err := w.addRecursive(fsWatcher, w.root); err != nil {
		_ = fsWatcher.Close()
		return err
	}

	w.watcher = fsWatcher
	w.started = true

	go w.loop(ctx, fsWatcher)
	return nil
}

// Events returns the change event channel.
func (w *FileWatcher) Events() <-chan types.ChangeEvent {
	return w.events
}

// Stop ends delivery and closes the event channel.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *FileWatcher) loop(ctx context.Context, fsWatcher *fsnotify.Watcher) {
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, fsWatcher, event)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *FileWatcher) handleEvent(ctx context.Context, fsWatcher *fsnotify.Watcher, event fsnotify.Event) {
	path := utils.MustNormalize(event.Name)
	if !utils.WithinRoot(w.root, path) {
		// Rename races can surface paths outside the watched tree.
		return
	}

	var kind types.ChangeKind
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = types.ChangeCreated
		// New directories join the watch set so their files are seen too.
		if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
			if err := w.addRecursive(fsWatcher, path); err != nil {
				w.logger.Warn("watch add failed", zap.String("path", path), zap.Error(err))
			}
			return // directory events themselves are not forwarded
		}
	case event.Op&fsnotify.Write != 0:
		kind = types.ChangeModified
	case event.Op&fsnotify.Remove != 0 || event.Op&fsnotify.Rename != 0:
		kind = types.ChangeDeleted
	default:
		return // chmod and friends carry no content change
	}

	change := types.ChangeEvent{Kind: kind, Path: path, Timestamp: time.Now()}

	select {
	case w.events <- change:
	case <-ctx.Done():
	case <-w.stopCh:
	}
}

func (w *FileWatcher) addRecursive(fsWatcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if !d.IsDir() {
			return nil
		}
		if addErr := fsWatcher.Add(path); addErr != nil {
			return errors.Wrap(errors.ErrCodeIOError, "failed to watch directory", addErr).
				WithComponent("watcher").WithPath(path)
		}
		return nil
	})
}
