package filesystem

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LocalFileSystem serves paths of the host.
type LocalFileSystem struct{}

var _ FileSystem = &LocalFileSystem{}

func NewLocalFileSystem() *LocalFileSystem {
	return &LocalFileSystem{}
}

func (l *LocalFileSystem) ReadFile(ctx context.Context, name string, maxSize int64) (data []byte, err error) {
	f, err := os.Open(filepath.Clean(name))
	if err != nil {
		return
	}
	defer func() {
		if e := f.Close(); e != nil {
			logger.Warn("could not close file correctly", slog.String("file", name), slog.String("error", e.Error()))
		}
	}()
	info, err := f.Stat()
	if err != nil {
		return
	}
	return readLimited(f, info.Size(), maxSize)
}

func (l *LocalFileSystem) Stat(ctx context.Context, name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

func (l *LocalFileSystem) Lstat(ctx context.Context, name string) (fs.FileInfo, error) {
	return os.Lstat(name)
}

// WalkDir stops as soon as ctx is done.
func (l *LocalFileSystem) WalkDir(ctx context.Context, root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fn(path, d, err)
	})
}

func (l *LocalFileSystem) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	return os.Create(filepath.Clean(name))
}

func (l *LocalFileSystem) MkdirAll(ctx context.Context, path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (l *LocalFileSystem) IsLocal() bool {
	return true
}

// Watch reports files created or written under path, subdirectories included.
func (l *LocalFileSystem) Watch(ctx context.Context, path string) (Watcher, error) {
	return newLocalWatcher(ctx, path)
}

type localWatcher struct {
	watcher  *fsnotify.Watcher
	events   chan WatchEvent
	errors   chan error
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	watching map[string]bool
}

func newLocalWatcher(ctx context.Context, path string) (*localWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w := &localWatcher{
		watcher:  fsWatcher,
		events:   make(chan WatchEvent, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		ctx:      watchCtx,
		cancel:   cancel,
		watching: make(map[string]bool),
	}
	if err := w.addTree(path); err != nil {
		if e := fsWatcher.Close(); e != nil {
			logger.Error("could not close fsnotify watcher", slog.String("error", e.Error()))
		}
		cancel()
		return nil, err
	}
	go w.watch()
	return w, nil
}

// addTree watches root and every directory below it, fsnotify not being recursive.
func (w *localWatcher) addTree(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() || w.watching[p] {
			return nil
		}
		if err := w.watcher.Add(p); err != nil {
			return err
		}
		w.watching[p] = true
		return nil
	})
}

func (w *localWatcher) watch() {
	defer close(w.done)
	defer close(w.events)
	defer close(w.errors)

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.ctx.Done():
				return
			}
		}
	}
}

func (w *localWatcher) handle(event fsnotify.Event) {
	var eventType WatchEventType
	switch {
	case event.Has(fsnotify.Create):
		eventType = WatchEventCreate
	case event.Has(fsnotify.Write):
		eventType = WatchEventWrite
	default:
		return
	}

	info, err := os.Lstat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if eventType == WatchEventCreate {
			if e := w.addTree(event.Name); e != nil {
				logger.Error("could not monitor path", slog.String("path", event.Name), slog.String("error", e.Error()))
			}
		}
		return
	}

	select {
	case w.events <- WatchEvent{Path: event.Name, Type: eventType, Time: time.Now(), FileInfo: info}:
	case <-w.ctx.Done():
	}
}

func (w *localWatcher) Events() <-chan WatchEvent {
	return w.events
}

func (w *localWatcher) Errors() <-chan error {
	return w.errors
}

func (w *localWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}
