package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/units"
	"github.com/glimps-re/stegascan/pkg/analyzer/audio"
	"github.com/glimps-re/stegascan/pkg/analyzer/imaging"
	"github.com/glimps-re/stegascan/pkg/analyzer/text"
	"github.com/glimps-re/stegascan/pkg/analyzer/video"
	"github.com/glimps-re/stegascan/pkg/cache"
	"github.com/glimps-re/stegascan/pkg/config"
	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/glimps-re/stegascan/pkg/engine"
	"github.com/glimps-re/stegascan/pkg/filesystem"
	"github.com/glimps-re/stegascan/pkg/jobs"
	"github.com/glimps-re/stegascan/pkg/monitor"
	"github.com/glimps-re/stegascan/pkg/scanner"
	"github.com/glimps-re/stegascan/pkg/server"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

var ConsoleLogger = slog.New(slog.DiscardHandler)

const maxFileSizeLimit = 2048 * 1024 * 1024 // 2 GiB

// Handler owns the components built from a configuration.
type Handler struct {
	Engine     *engine.Engine
	FS         filesystem.Router
	Cache      cache.Cacher
	Conn       *scanner.Connector
	Store      jobs.Store
	Dispatcher *jobs.Dispatcher

	monitor monitor.Monitorer
	closers []io.Closer
	conf    *config.Config
}

// SetLogLevel switches every package logger to debug or info.
func SetLogLevel(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	for _, l := range []*slog.LevelVar{
		LogLevel,
		engine.LogLevel,
		jobs.LogLevel,
		cache.LogLevel,
		scanner.LogLevel,
		monitor.LogLevel,
		filesystem.LogLevel,
		datamodel.LogLevel,
		server.LogLevel,
		imaging.LogLevel,
		audio.LogLevel,
		video.LogLevel,
		text.LogLevel,
	} {
		l.Set(level)
	}
}

// SetConsoleLogger routes the user facing messages of the scan to l.
func SetConsoleLogger(l *slog.Logger) {
	ConsoleLogger = l
	scanner.ConsoleLogger = l
}

// NewHandler builds the engine and the file systems. The other components are
// built by the Setup methods of the commands needing them.
func NewHandler(ctx context.Context, conf *config.Config) (h *Handler, err error) {
	SetLogLevel(conf.Debug)
	h = &Handler{
		conf:   conf,
		Engine: engine.New(conf.Thresholds),
		FS:     filesystem.Router{Local: filesystem.NewLocalFileSystem()},
	}
	if conf.S3Enabled() {
		s3fs, s3Err := filesystem.NewS3FileSystem(ctx, conf.S3)
		if s3Err != nil {
			err = fmt.Errorf("could not init s3 client: %w", s3Err)
			return
		}
		h.FS.S3 = s3fs
	}
	return
}

// ParseSize reads a human size ("100MiB"), capping it at 2GiB.
func ParseSize(value string) (size int64, err error) {
	size, err = units.ParseStrictBytes(value)
	if err != nil {
		err = fmt.Errorf("could not parse size %q: %w", value, err)
		return
	}
	switch {
	case size <= 0:
		err = fmt.Errorf("size %q must be greater than 0", value)
	case size > maxFileSizeLimit:
		logger.Warn("size can't exceed 2GiB, set the value to 2GiB", slog.String("size", value))
		size = maxFileSizeLimit
	}
	return
}

// Options returns the scan options of the configuration.
func (h *Handler) Options() (opts engine.Options, err error) {
	return engine.Options{VideoSampleRate: h.conf.Scan.VideoSampleRate, Verbose: h.conf.Verbose}.Normalize()
}

func (h *Handler) setupCache(ctx context.Context) (err error) {
	if !h.conf.Cache.Enabled || h.Cache != nil {
		return
	}
	c, err := cache.NewCache(ctx, h.conf.Cache.Location)
	if err != nil {
		err = fmt.Errorf("could not open cache: %w", err)
		return
	}
	h.Cache = c
	h.closers = append(h.closers, c)
	return
}

// SetupConnector builds the batch scanner, writing reports to
// conf.Scan.Report when it is set.
func (h *Handler) SetupConnector(ctx context.Context) (err error) {
	if err = h.setupCache(ctx); err != nil {
		return
	}
	opts, err := h.Options()
	if err != nil {
		return
	}
	maxFileSize, err := ParseSize(h.conf.MaxFileSize)
	if err != nil {
		return
	}

	actions := scanner.Actions{
		Log:     h.conf.Actions.Log,
		Print:   h.conf.Actions.Print,
		Verbose: h.conf.Verbose,
	}
	if h.conf.Actions.PrintLocation != "" {
		printFile, createErr := os.Create(filepath.Clean(h.conf.Actions.PrintLocation))
		if createErr != nil {
			err = fmt.Errorf("could not open print location, error: %w", createErr)
			return
		}
		h.closers = append(h.closers, printFile)
		actions.PrintDest = printFile
	}
	if h.conf.Scan.Report != "" {
		reportFile, openErr := openReport(h.conf.Scan.Report)
		if openErr != nil {
			err = fmt.Errorf("could not open report location, error: %w", openErr)
			return
		}
		h.closers = append(h.closers, reportFile)
		actions.Reports = datamodel.NewReportsWriter(reportFile)
	}

	h.Conn = scanner.NewConnector(scanner.Config{
		Workers:        h.conf.Workers,
		ExtractWorkers: h.conf.ExtractWorkers,
		Extract:        h.conf.Extract,
		MaxFileSize:    maxFileSize,
		FollowSymlinks: h.conf.FollowSymlinks,
		Options:        opts,
		Actions:        actions,
	}, h.Engine, h.Cache, h.FS)
	return
}

// openReport truncates the report file, creating its folder when needed.
func openReport(location string) (f *os.File, err error) {
	location = filepath.Clean(location)
	if err = os.MkdirAll(filepath.Dir(location), 0o750); err != nil {
		return
	}
	return os.Create(location)
}

// OpenStore opens the configured job store.
func (h *Handler) OpenStore(ctx context.Context) (err error) {
	if h.Store != nil {
		return
	}
	switch h.conf.Jobs.Store {
	case "", config.StoreMemory:
		h.Store = jobs.NewMemoryStore()
	case config.StoreSQLite:
		location := h.conf.Jobs.Location
		if location == "" {
			location = config.DefaultJobsLocation
		}
		h.Store, err = jobs.NewSQLiteStore(ctx, location)
		if err != nil {
			return
		}
	default:
		err = fmt.Errorf("unknown job store %q", h.conf.Jobs.Store)
		return
	}
	h.closers = append(h.closers, h.Store)
	return
}

// SetupDispatcher opens the job store and starts the async workers.
func (h *Handler) SetupDispatcher(ctx context.Context) (err error) {
	if h.Dispatcher != nil {
		return
	}
	if err = h.OpenStore(ctx); err != nil {
		return
	}
	h.Dispatcher = jobs.NewDispatcher(h.conf.Jobs.Config, h.Engine, h.Store)
	h.Dispatcher.Start()
	return
}

// SetupServer starts the async workers and builds the HTTP server on top of
// them.
func (h *Handler) SetupServer(ctx context.Context) (s *server.Server, err error) {
	maxUploadSize, err := ParseSize(h.conf.Server.MaxUploadSize)
	if err != nil {
		return
	}
	if err = h.SetupDispatcher(ctx); err != nil {
		return
	}
	s = server.New(h.Engine, h.Dispatcher, server.Config{
		MaxUploadSize: maxUploadSize,
		Version:       config.Version,
	})
	return
}

// OnNewFile scans what the monitor reports.
func (h *Handler) OnNewFile(ctx context.Context) monitor.OnNewFileFunc {
	return func(file string) error {
		return h.Conn.ScanFile(ctx, file)
	}
}

// StartMonitoring starts the connector and watches paths.
func (h *Handler) StartMonitoring(ctx context.Context, paths []string) (err error) {
	if h.Conn == nil {
		if err = h.SetupConnector(ctx); err != nil {
			return
		}
	}
	if err = h.Conn.Start(); err != nil {
		return
	}
	mon := monitor.NewMonitor(h.OnNewFile(ctx), h.FS, h.conf.Monitoring)
	mon.Start()
	h.monitor = mon
	for _, path := range paths {
		if err = mon.Add(path); err != nil {
			err = fmt.Errorf("error monitoring path %s: %w", path, err)
			return
		}
		logger.Info("monitoring path", slog.String("path", path))
	}
	return
}

// HandleScanFinished prints a summary of the batch scan.
func (h *Handler) HandleScanFinished() {
	if h.Conn == nil {
		return
	}
	var detected, failed, cached int
	reports := h.Conn.Reports()
	for _, r := range reports {
		switch {
		case r.Error != "":
			failed++
		case r.SteganographyDetected:
			detected++
		}
		if r.Cached {
			cached++
		}
	}
	logger.Info("scan finished",
		slog.Int("files", len(reports)),
		slog.Int("steganography-detected", detected),
		slog.Int("errors", failed),
		slog.Int("cached", cached),
	)
	ConsoleLogger.Info(fmt.Sprintf("%d files scanned, %d suspicious, %d errors", len(reports), detected, failed))
}

// Close stops every started component then releases the stores.
func (h *Handler) Close(ctx context.Context) (err error) {
	if h.monitor != nil {
		if e := h.monitor.Close(); e != nil {
			err = errors.Join(err, e)
		}
		h.monitor = nil
	}
	if h.Conn != nil {
		h.Conn.Close(ctx)
	}
	if h.Dispatcher != nil {
		if e := h.Dispatcher.Close(ctx); e != nil {
			err = errors.Join(err, e)
		}
		h.Dispatcher = nil
	}
	for i := len(h.closers) - 1; i >= 0; i-- {
		if e := h.closers[i].Close(); e != nil {
			logger.Warn("could not close resource", slog.String("error", e.Error()))
			err = errors.Join(err, e)
		}
	}
	h.closers = nil
	return
}
