package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glimps-re/stegascan/pkg/cache"
	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/glimps-re/stegascan/pkg/engine"
	"github.com/glimps-re/stegascan/pkg/filesystem"
	"github.com/glimps-re/stegascan/pkg/signatures"
	"golift.io/xtractr"
)

const (
	actionTimeout = 30 * time.Second
)

var (
	LogLevel      = &slog.LevelVar{}
	logger        = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))
	ConsoleLogger = slog.New(slog.DiscardHandler)
)

const (
	logReasonKey = "reason"
	logErrorKey  = "error"
)

var ErrStopped = errors.New("connector is stopped")

type Config struct {
	Workers        int
	ExtractWorkers int
	// Extract unpacks local archives and scans their content next to the archive itself.
	Extract        bool
	MaxFileSize    int64
	FollowSymlinks bool
	Options        engine.Options
	Actions        Actions
	// CustomActions run after the built-in ones.
	CustomActions  []Action
}

type fileToAnalyze struct {
	fsys     filesystem.FileSystem
	location string
	filename string
	size     int64
	archive  *extractedArchive
}

type archiveToAnalyze struct {
	location string
	size     int64
}

// Connector scans files, directories and archives on a bounded pool of
// workers, each result going through the configured actions.
type Connector struct {
	engine engine.Scanner
	cache  cache.Cacher
	fs     filesystem.Router

	lock    sync.RWMutex
	started bool

	stopExtract chan struct{}
	stopWorker  chan struct{}

	config          Config
	workerWg        sync.WaitGroup
	extractWg       sync.WaitGroup
	fileChan        chan fileToAnalyze
	archiveChan     chan archiveToAnalyze
	action          Action
	reportMutex     sync.Mutex
	reports         []datamodel.Report
	ongoingAnalysis *sync.Map
}

const (
	defaultMaxFileSize    int64 = 100 * 1024 * 1024
	defaultWorkers              = 4
	defaultExtractWorkers       = 2
)

// NewConnector builds a connector. c may be nil to disable the result cache.
func NewConnector(config Config, e engine.Scanner, c cache.Cacher, router filesystem.Router) *Connector {
	if config.Workers < 1 {
		config.Workers = defaultWorkers
	}
	if config.ExtractWorkers < 1 {
		config.ExtractWorkers = defaultExtractWorkers
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = defaultMaxFileSize
	}
	if router.Local == nil {
		router.Local = filesystem.NewLocalFileSystem()
	}
	return &Connector{
		engine:          e,
		cache:           c,
		fs:              router,
		fileChan:        make(chan fileToAnalyze),
		archiveChan:     make(chan archiveToAnalyze),
		config:          config,
		action:          newAction(config),
		ongoingAnalysis: new(sync.Map),
		stopExtract:     make(chan struct{}),
		stopWorker:      make(chan struct{}),
	}
}

func newAction(config Config) *MultiAction {
	action := NewMultiAction(&ReportAction{Verbose: config.Options.Verbose})
	if config.Actions.Log {
		action.Actions = append(action.Actions, &LogAction{logger: logger})
	}
	if config.Actions.Print {
		action.Actions = append(action.Actions, &PrintAction{Verbose: config.Actions.Verbose, Out: config.Actions.PrintDest})
	}
	if config.Actions.Reports != nil {
		action.Actions = append(action.Actions, &WriteReportAction{Writer: config.Actions.Reports})
	}
	action.Actions = append(action.Actions, config.CustomActions...)
	return action
}

func (c *Connector) Start() (err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.started = true
	for range c.config.Workers {
		c.workerWg.Go(func() { c.worker() })
	}
	for range c.config.ExtractWorkers {
		c.extractWg.Go(func() { c.extractWorker() })
	}
	return
}

// ExtractFile could be used to override xtract.ExtractFile method
var ExtractFile = func(archiveLocation, outputDir string) (size int64, files []string, volumes []string, err error) {
	xFile := &xtractr.XFile{
		FilePath:  archiveLocation,
		OutputDir: outputDir,
		FileMode:  0o600,
		DirMode:   0o750,
	}
	return xtractr.ExtractFile(xFile)
}

// ScanFile queues input, a file, a directory or an s3://bucket/prefix path.
// It returns once every file below input is handed to a worker.
func (c *Connector) ScanFile(ctx context.Context, input string) (err error) {
	c.lock.RLock()
	started := c.started
	c.lock.RUnlock()
	if !started {
		err = ErrStopped
		return
	}

	fsys, name, err := c.fs.Resolve(input)
	if err != nil {
		return
	}
	if fsys.IsLocal() {
		name = filepath.Clean(name)
	}
	return c.scanPath(ctx, fsys, name)
}

func (c *Connector) scanPath(ctx context.Context, fsys filesystem.FileSystem, name string) (err error) {
	inputLogger := logger.With(slog.String("input file", name))

	linfo, err := fsys.Lstat(ctx, name)
	if err != nil {
		return
	}
	if linfo.Mode()&fs.ModeSymlink != 0 && !c.config.FollowSymlinks {
		inputLogger.Debug("skip file", slog.String(logReasonKey, "symbolic link"))
		return
	}

	info, err := fsys.Stat(ctx, name)
	if err != nil {
		return
	}
	if info.IsDir() {
		return c.scanDir(ctx, fsys, name)
	}

	if info.Size() == 0 {
		inputLogger.Warn("skip file", slog.String(logReasonKey, "size 0"))
		ConsoleLogger.Warn(fmt.Sprintf("skip empty file %s", name))
		return
	}

	if _, loaded := c.ongoingAnalysis.LoadOrStore(name, struct{}{}); loaded {
		inputLogger.Debug("skip file", slog.String(logReasonKey, "ongoing analysis"))
		return
	}
	defer func() {
		if err != nil {
			c.ongoingAnalysis.Delete(name)
		}
	}()

	if c.config.Extract && fsys.IsLocal() {
		select {
		case <-ctx.Done():
			return context.Canceled
		case c.archiveChan <- archiveToAnalyze{location: name, size: info.Size()}:
			return
		}
	}

	select {
	case <-ctx.Done():
		return context.Canceled
	case c.fileChan <- fileToAnalyze{fsys: fsys, filename: name, location: name, size: info.Size()}:
		return
	}
}

func (c *Connector) scanDir(ctx context.Context, fsys filesystem.FileSystem, input string) (err error) {
	if fsys.IsLocal() {
		// WalkDir seems to not handle correctly path without ending /
		input += string(filepath.Separator)
	}
	return fsys.WalkDir(ctx, input, func(p string, d fs.DirEntry, walkErr error) (err error) {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return
		}
		if err = c.scanPath(ctx, fsys, p); err != nil {
			logger.Error("could not scan file", slog.String("file", p), slog.String(logErrorKey, err.Error()))
			if ctx.Err() != nil {
				return
			}
			err = nil
		}
		return
	})
}

func (c *Connector) worker() {
	for {
		select {
		case <-c.stopWorker:
			return
		case input := <-c.fileChan:
			c.handle(input)
		}
	}
}

func (c *Connector) handle(input fileToAnalyze) {
	inputLogger := logger.With(slog.String("file", input.filename))
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	result, report := c.handleFile(ctx, input)
	if input.archive == nil {
		c.ongoingAnalysis.Delete(input.location)
	} else {
		report.ExtractedFrom = input.archive.location
		defer c.finishInnerFile(input.archive)
	}
	if report.Error != "" {
		inputLogger.Error("could not handle file properly", slog.String(logErrorKey, report.Error))
		ConsoleLogger.Error(fmt.Sprintf("could not handle file %s properly: %s", input.filename, report.Error))
	}
	if err := c.action.Handle(ctx, input.filename, result, &report); err != nil {
		inputLogger.Error("could not handle file action", slog.String(logErrorKey, err.Error()))
		ConsoleLogger.Error(fmt.Sprintf("could not handle file action for %s: %s", input.filename, err.Error()))
	}
	c.addReport(report)
}

// handleFile reads and scans input, going through the cache when one is set.
// A failure is reported in report.Error with a zero result.
func (c *Connector) handleFile(ctx context.Context, input fileToAnalyze) (result datamodel.Result, report datamodel.Report) {
	report = datamodel.Report{Filename: input.filename, FileSize: input.size}
	if input.size > c.config.MaxFileSize {
		report.Error = datamodel.ErrFileTooLarge.Error()
		return
	}
	data, err := input.fsys.ReadFile(ctx, input.location, c.config.MaxFileSize)
	switch {
	case errors.Is(err, filesystem.ErrTooLarge):
		report.Error = datamodel.ErrFileTooLarge.Error()
		return
	case err != nil:
		report.Error = err.Error()
		return
	}
	sum := sha256.Sum256(data)
	report.SHA256 = hex.EncodeToString(sum[:])

	// archive members are named after their path inside the archive
	name := path.Base(filepath.ToSlash(input.filename))
	key := ""
	if c.cache != nil {
		key = cache.ComputeKey(report.SHA256, signatures.Extension(name), c.config.Options.VideoSampleRate, c.config.Options.Verbose)
		entry, cacheErr := c.cache.Get(ctx, key)
		switch {
		case cacheErr == nil:
			result = entry.Result
			result.FileInfo.Path = name
			report.Cached = true
			return
		case !errors.Is(cacheErr, cache.ErrEntryNotFound):
			logger.Warn("could not read cache", slog.String("file", input.filename), slog.String(logErrorKey, cacheErr.Error()))
		}
	}

	result, err = c.engine.Scan(ctx, data, name, c.config.Options)
	if err != nil {
		report.Error = err.Error()
		result = datamodel.Result{}
		return
	}
	if c.cache != nil {
		if err = c.cache.Set(ctx, &cache.Entry{Key: key, SHA256: report.SHA256, Result: result}); err != nil {
			logger.Warn("could not cache result", slog.String("file", input.filename), slog.String(logErrorKey, err.Error()))
		}
	}
	return
}

func (c *Connector) extractWorker() {
	for {
		select {
		case <-c.stopExtract:
			return
		case archive := <-c.archiveChan:
			if err := c.tryExtract(archive); err != nil {
				ConsoleLogger.Error(fmt.Sprintf("could not handle file %s, error: %s", archive.location, err.Error()))
			}
		}
	}
}

// tryExtract queues the archive itself, then the files extracted from it.
// Files xtractr cannot unpack are only scanned as themselves.
func (c *Connector) tryExtract(archive archiveToAnalyze) (err error) {
	archiveLogger := logger.With(slog.String("input file", archive.location))
	local := c.fs.Local
	self := fileToAnalyze{fsys: local, location: archive.location, filename: archive.location, size: archive.size}
	select {
	case <-c.stopWorker:
		return context.Canceled
	case c.fileChan <- self:
	}

	outputDir, err := os.MkdirTemp(os.TempDir(), "stegascan-extract-*")
	if err != nil {
		return
	}
	_, files, _, extractErr := ExtractFile(archive.location, outputDir)
	if extractErr != nil || len(files) == 0 {
		if e := os.RemoveAll(outputDir); e != nil {
			archiveLogger.Error("could not remove temp folder", slog.String("folder", outputDir), slog.String(logErrorKey, e.Error()))
		}
		return
	}

	archiveLogger.Info("extract files from archive", slog.Int("files", len(files)))
	extracted := &extractedArchive{location: archive.location, tmpFolder: outputDir, remaining: len(files)}
	for _, f := range files {
		info, statErr := local.Stat(context.Background(), f)
		if statErr != nil || info.IsDir() || info.Size() == 0 {
			archiveLogger.Debug("skip archive inner file", slog.String("subfile", f))
			c.finishInnerFile(extracted)
			continue
		}
		relPath, relErr := filepath.Rel(outputDir, f)
		if relErr != nil {
			relPath = filepath.Base(f)
		}
		inner := fileToAnalyze{
			fsys:     local,
			location: f,
			filename: filepath.Join(archive.location, relPath),
			size:     info.Size(),
			archive:  extracted,
		}
		select {
		case <-c.stopWorker:
			return context.Canceled
		case c.fileChan <- inner:
		}
	}
	return
}

func (c *Connector) addReport(report datamodel.Report) {
	c.reportMutex.Lock()
	defer c.reportMutex.Unlock()
	c.reports = append(c.reports, report)
}

// Reports returns the reports of every file handled so far.
func (c *Connector) Reports() []datamodel.Report {
	c.reportMutex.Lock()
	defer c.reportMutex.Unlock()
	return append([]datamodel.Report(nil), c.reports...)
}

// Close waits for the queued files to be handled then stops the workers.
func (c *Connector) Close(ctx context.Context) {
	c.lock.Lock()
	if !c.started {
		c.lock.Unlock()
		return
	}
	c.started = false
	c.lock.Unlock()

	close(c.stopExtract)
	c.extractWg.Wait()

	close(c.stopWorker)
	c.workerWg.Wait()
}

// IsS3Path reports whether p targets the S3 file system.
func IsS3Path(p string) bool {
	return strings.HasPrefix(p, filesystem.S3Prefix)
}
