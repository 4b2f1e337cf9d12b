package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/glimps-re/stegascan/pkg/engine"
	"github.com/glimps-re/stegascan/pkg/jobs"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var (
	LogLevel = &slog.LevelVar{}
	logger   = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))
)

// multipartOverhead is the room left to the form encoding on top of
// Config.MaxUploadSize when limiting request bodies.
const multipartOverhead = 1024 * 1024

// Analyses runs scans asynchronously, jobs.Dispatcher implements it.
type Analyses interface {
	Submit(ctx context.Context, data []byte, filename string, opts engine.Options) (id string, err error)
	Poll(ctx context.Context, id string) (jobs.Record, error)
}

var _ Analyses = &jobs.Dispatcher{}

type Config struct {
	// MaxUploadSize bounds the size of an uploaded file, in bytes.
	MaxUploadSize int64
	Version       string
}

type Server struct {
	echo     *echo.Echo
	scanner  engine.Scanner
	analyses Analyses
	config   Config
}

// New builds the HTTP server. With a nil analyses, the /api/analyses routes
// are not registered.
func New(scanner engine.Scanner, analyses Analyses, config Config) *Server {
	s := &Server{
		echo:     echo.New(),
		scanner:  scanner,
		analyses: analyses,
		config:   config,
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(context.Background(), slog.LevelInfo, "request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/", s.handleInfo)
	e.GET("/health", s.handleHealth)
	api := e.Group("/api", s.limitBody)
	api.POST("/scan", s.handleScan)
	if analyses != nil {
		api.POST("/analyses", s.handleSubmit)
		api.GET("/analyses/:id", s.handlePoll)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on address until Shutdown.
func (s *Server) Start(address string) (err error) {
	logger.Info("server listening", slog.String("address", address))
	err = s.echo.Start(address)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) limitBody(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.MaxUploadSize > 0 {
			req := c.Request()
			if req.ContentLength > s.config.MaxUploadSize+multipartOverhead {
				return datamodel.ErrFileTooLarge
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, s.config.MaxUploadSize+multipartOverhead)
		}
		return next(c)
	}
}

func (s *Server) handleInfo(c echo.Context) error {
	endpoints := []string{"GET /health", "POST /api/scan"}
	if s.analyses != nil {
		endpoints = append(endpoints, "POST /api/analyses", "GET /api/analyses/:id")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"service":     "Stegascan API",
		"version":     s.config.Version,
		"description": "Steganography detection and analysis API",
		"endpoints":   endpoints,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.config.Version,
	})
}

type upload struct {
	data     []byte
	filename string
	opts     engine.Options
}

// readUpload decodes the multipart form of a scan or submit request.
func (s *Server) readUpload(c echo.Context) (u upload, err error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var bytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &bytesErr):
		case errors.Is(err, http.ErrMissingFile):
			err = datamodel.ErrMissingFile
		default:
			err = newAPIError(http.StatusBadRequest, "BAD_REQUEST", err)
		}
		return
	}
	if s.config.MaxUploadSize > 0 && fh.Size > s.config.MaxUploadSize {
		err = datamodel.ErrFileTooLarge
		return
	}
	f, err := fh.Open()
	if err != nil {
		return
	}
	defer func() {
		if e := f.Close(); e != nil {
			logger.Warn("could not close uploaded file", slog.String("error", e.Error()))
		}
	}()
	if u.data, err = io.ReadAll(f); err != nil {
		return
	}
	if len(u.data) == 0 {
		err = datamodel.ErrEmptyFile
		return
	}

	u.filename = fh.Filename
	if u.filename == "" {
		u.filename = "unknown"
	}
	if u.opts.VideoSampleRate, err = engine.ParseSampleRate(c.FormValue("video_sample_rate")); err != nil {
		return
	}
	if verbose := strings.TrimSpace(c.FormValue("verbose")); verbose != "" {
		if u.opts.Verbose, err = strconv.ParseBool(verbose); err != nil {
			err = newAPIError(http.StatusBadRequest, "VALIDATION_ERROR", errors.New("verbose must be a boolean"))
			return
		}
	}
	return
}

func (s *Server) handleScan(c echo.Context) error {
	u, err := s.readUpload(c)
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := s.scanner.Scan(c.Request().Context(), u.data, u.filename, u.opts)
	if err != nil {
		return err
	}
	logger.Info("file scanned",
		slog.String("file", u.filename),
		slog.Int("size", len(u.data)),
		slog.String("confidence", string(res.Summary.ConfidenceLevel)),
		slog.Duration("duration", time.Since(start)),
	)
	return c.JSON(http.StatusOK, res)
}

type submitResponse struct {
	ID     string      `json:"analysis_id"`
	Status jobs.Status `json:"status"`
}

func (s *Server) handleSubmit(c echo.Context) error {
	u, err := s.readUpload(c)
	if err != nil {
		return err
	}
	id, err := s.analyses.Submit(c.Request().Context(), u.data, u.filename, u.opts)
	if err != nil {
		if id != "" {
			apiErr := toAPIError(err)
			apiErr.Details = "analysis_id " + id
			return apiErr
		}
		return err
	}
	return c.JSON(http.StatusAccepted, submitResponse{ID: id, Status: jobs.StatusPending.Public()})
}

func (s *Server) handlePoll(c echo.Context) error {
	rec, err := s.analyses.Poll(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}
