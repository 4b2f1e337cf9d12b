package filesystem

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))

// WatchEventType represents the type of filesystem event
type WatchEventType int

const (
	WatchEventCreate WatchEventType = iota
	WatchEventWrite
)

func (t WatchEventType) String() string {
	switch t {
	case WatchEventCreate:
		return "CREATE"
	case WatchEventWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}

// WatchEvent represents a filesystem event
type WatchEvent struct {
	Path     string
	Type     WatchEventType
	Time     time.Time
	FileInfo fs.FileInfo
}

// Watcher represents an active watch session
type Watcher interface {
	// Events returns a channel of watch events
	Events() <-chan WatchEvent
	// Errors returns a channel of watch errors
	Errors() <-chan error
	// Close stops watching and cleans up resources
	Close() error
}

// FileSystem is where scanned files are read from and reports written to.
type FileSystem interface {
	// ReadFile reads the whole content of name, failing with ErrTooLarge
	// when it exceeds maxSize bytes (maxSize <= 0 means no limit).
	ReadFile(ctx context.Context, name string, maxSize int64) ([]byte, error)
	Stat(ctx context.Context, name string) (fs.FileInfo, error)
	Lstat(ctx context.Context, name string) (fs.FileInfo, error)
	WalkDir(ctx context.Context, root string, fn fs.WalkDirFunc) error
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	MkdirAll(ctx context.Context, path string, perm fs.FileMode) error
	IsLocal() bool

	// Watch starts watching the specified path for changes
	Watch(ctx context.Context, path string) (Watcher, error)
}

var (
	ErrTooLarge        = errors.New("file exceeds maximum size")
	ErrS3NotConfigured = errors.New("s3 path given but no s3 endpoint configured")
)

// S3Prefix marks paths served by the S3 file system: s3://bucket/key.
const S3Prefix = "s3://"

// Router picks the file system serving a path.
type Router struct {
	Local FileSystem
	// S3 is nil when no S3 endpoint is configured.
	S3 FileSystem
}

// Resolve returns the file system of p and p in that file system's syntax.
func (r Router) Resolve(p string) (fsys FileSystem, name string, err error) {
	if rest, ok := strings.CutPrefix(p, S3Prefix); ok {
		if r.S3 == nil {
			err = ErrS3NotConfigured
			return
		}
		return r.S3, rest, nil
	}
	return r.Local, p, nil
}

func readLimited(r io.Reader, size, maxSize int64) (data []byte, err error) {
	if maxSize > 0 && size > maxSize {
		err = ErrTooLarge
		return
	}
	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}
	data, err = io.ReadAll(r)
	if err == nil && maxSize > 0 && int64(len(data)) > maxSize {
		data, err = nil, ErrTooLarge
	}
	return
}
