package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/glimps-re/stegascan/pkg/filesystem"
)

var (
	LogLevel = &slog.LevelVar{}
	logger   = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))
)

type Monitorer interface {
	Start()
	Close() error
	Add(path string) error
}

// OnNewFileFunc is called with a settled new file, or with a watched root on
// prescan and rescan.
type OnNewFileFunc func(file string) error

type Config struct {
	PreScan bool          `yaml:"prescan" mapstructure:"prescan"`
	Period  time.Duration `yaml:"period" mapstructure:"period"`
	// ModDelay is how long a file must stay unmodified before it is scanned.
	ModDelay time.Duration `yaml:"mod_delay" mapstructure:"mod_delay"`
}

type watched struct {
	fsys    filesystem.FileSystem
	watcher filesystem.Watcher
}

// Monitor watches folders, local or on S3, and reports the files created or
// written in them once they stop changing.
type Monitor struct {
	fs           filesystem.Router
	cb           OnNewFileFunc
	config       Config
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	lock         sync.Mutex
	paths        map[string]watched
	filesToScan  chan pendingFile
	pendingFiles *sync.Map
}

type pendingFile struct {
	fsys filesystem.FileSystem
	path string
	// name is path with its file system prefix, as given to the callback.
	name string
}

func NewMonitor(onNewFile OnNewFileFunc, router filesystem.Router, config Config) *Monitor {
	if router.Local == nil {
		router.Local = filesystem.NewLocalFileSystem()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		fs:           router,
		cb:           onNewFile,
		config:       config,
		ctx:          ctx,
		cancel:       cancel,
		paths:        map[string]watched{},
		filesToScan:  make(chan pendingFile),
		pendingFiles: new(sync.Map),
	}
}

func (m *Monitor) Start() {
	if m.config.Period != 0 {
		m.wg.Go(func() {
			m.scan()
		})
	}
	m.wg.Go(func() {
		m.scanFiles()
	})
}

func (m *Monitor) Close() (err error) {
	m.cancel()
	m.lock.Lock()
	for path, w := range m.paths {
		if e := w.watcher.Close(); e != nil {
			logger.Error("cannot close watcher", slog.String("path", path), slog.String("error", e.Error()))
			err = fmt.Errorf("cannot close watcher, error: %w", e)
		}
	}
	m.lock.Unlock()
	m.wg.Wait()
	return
}

func (m *Monitor) scan() {
	ticker := time.NewTicker(m.config.Period)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.lock.Lock()
			roots := make([]string, 0, len(m.paths))
			for path := range m.paths {
				roots = append(roots, path)
			}
			m.lock.Unlock()
			for _, path := range roots {
				m.call(path)
			}
		}
	}
}

func (m *Monitor) call(path string) {
	if err := m.cb(path); err != nil {
		logger.Error("error action on new file", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (m *Monitor) work(root string, w watched) {
	prefix := ""
	if !w.fsys.IsLocal() {
		prefix = filesystem.S3Prefix
	}
	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-w.watcher.Events():
			if !ok {
				return
			}
			logger.Debug("new event", slog.String("path", event.Path), slog.String("type", event.Type.String()))
			if _, loaded := m.pendingFiles.LoadOrStore(event.Path, struct{}{}); loaded {
				continue
			}
			select {
			case m.filesToScan <- pendingFile{fsys: w.fsys, path: event.Path, name: prefix + event.Path}:
			case <-m.ctx.Done():
				return
			}
		case err, ok := <-w.watcher.Errors():
			if !ok {
				return
			}
			logger.Error("watcher error", slog.String("root", root), slog.String("error", err.Error()))
		}
	}
}

var (
	Since = time.Since
)

func (m *Monitor) scanFiles() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case file := <-m.filesToScan:
			info, statErr := file.fsys.Stat(m.ctx, file.path)
			if statErr != nil {
				m.pendingFiles.Delete(file.path)
				continue
			}

			if age := Since(info.ModTime()); age < m.config.ModDelay {
				time.AfterFunc(m.config.ModDelay-age, func() {
					select {
					case <-m.ctx.Done():
						m.pendingFiles.Delete(file.path)
					case m.filesToScan <- file:
					}
				})
				continue
			}

			m.call(file.name)
			m.pendingFiles.Delete(file.path)
		}
	}
}

// Add watches path recursively. With PreScan, the files already there are
// reported through one callback on path.
func (m *Monitor) Add(path string) (err error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.paths[path]; ok {
		return
	}
	fsys, name, err := m.fs.Resolve(path)
	if err != nil {
		return
	}
	watcher, err := fsys.Watch(m.ctx, name)
	if err != nil {
		return fmt.Errorf("error watching %s: %w", path, err)
	}
	w := watched{fsys: fsys, watcher: watcher}
	m.paths[path] = w
	m.wg.Go(func() {
		m.work(path, w)
	})
	if m.config.PreScan {
		m.wg.Go(func() {
			m.call(path)
		})
	}
	return
}
