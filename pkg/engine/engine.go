package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/glimps-re/stegascan/pkg/analyzer/audio"
	"github.com/glimps-re/stegascan/pkg/analyzer/imaging"
	"github.com/glimps-re/stegascan/pkg/analyzer/text"
	"github.com/glimps-re/stegascan/pkg/analyzer/video"
	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/glimps-re/stegascan/pkg/signatures"
	"github.com/glimps-re/stegascan/pkg/summary"
	"golang.org/x/sync/errgroup"
)

var (
	LogLevel = &slog.LevelVar{}
	logger   = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel}))
)

// Now could be overridden in tests
var Now = time.Now

type Config struct {
	Signatures signatures.Config `yaml:"signatures" mapstructure:"signatures"`
	Image      imaging.Config    `yaml:"image" mapstructure:"image"`
	Audio      audio.Config      `yaml:"audio" mapstructure:"audio"`
	Video      video.Config      `yaml:"video" mapstructure:"video"`
	Text       text.Config       `yaml:"text" mapstructure:"text"`
}

type Options struct {
	// VideoSampleRate analyzes one frame out of VideoSampleRate, it must be at least 1.
	VideoSampleRate int  `json:"video_sample_rate"`
	Verbose         bool `json:"verbose,omitempty"`
}

// DefaultOptions samples one video frame out of video.DefaultSampleRate.
func DefaultOptions() Options {
	return Options{VideoSampleRate: video.DefaultSampleRate}
}

// Normalize rejects invalid options.
func (o Options) Normalize() (Options, error) {
	if o.VideoSampleRate < 1 {
		return o, datamodel.ErrInvalidSampleRate
	}
	return o, nil
}

// Scanner is implemented by Engine. Callers depend on it to swap the engine in tests.
type Scanner interface {
	Scan(ctx context.Context, data []byte, filename string, opts Options) (datamodel.Result, error)
}

// Engine holds no per-scan state: one Engine serves concurrent scans.
type Engine struct {
	signatures *signatures.Scanner
	image      *imaging.Analyzer
	audio      *audio.Analyzer
	video      *video.Analyzer
	text       *text.Analyzer
}

func New(config Config) *Engine {
	image := imaging.NewAnalyzer(config.Image)
	return &Engine{
		signatures: signatures.NewScanner(nil, config.Signatures),
		image:      image,
		audio:      audio.NewAnalyzer(config.Audio),
		video:      video.NewAnalyzer(config.Video, image.LSBThresholds()),
		text:       text.NewAnalyzer(config.Text),
	}
}

// ParseSampleRate reads a video_sample_rate form value, "" meaning the default.
func ParseSampleRate(value string) (rate int, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		rate = video.DefaultSampleRate
		return
	}
	rate, err = strconv.Atoi(value)
	if err != nil || rate < 1 {
		rate, err = 0, datamodel.ErrInvalidSampleRate
	}
	return
}

// recovered turns a panic of the running goroutine into an ErrInternal error.
func recovered(err *error) {
	if r := recover(); r != nil {
		logger.Error("scan panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		*err = fmt.Errorf("%w: %v", datamodel.ErrInternal, r)
	}
}

// Scan analyzes data named filename. The magic byte layer and the format layer
// run concurrently. A format layer that cannot decode its input reports it in
// its error field; Scan itself only fails on invalid options, cancellation or
// internal errors.
func (e *Engine) Scan(ctx context.Context, data []byte, filename string, opts Options) (res datamodel.Result, err error) {
	defer recovered(&err)
	if opts, err = opts.Normalize(); err != nil {
		return
	}

	ext := signatures.Extension(filename)
	detected := e.signatures.Classify(data, ext)
	format := ""
	if sig, ok := e.signatures.Primary(data); ok {
		format = sig.Format
	}
	scanLogger := logger.With(slog.String("file", filename), slog.String("detected_type", string(detected)), slog.String("format", format))
	scanLogger.Debug("scan started", slog.Int("size", len(data)))

	var (
		magic    datamodel.MagicBytesAnalysis
		specific datamodel.FormatSpecificAnalysis
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recovered(&err)
		magic = e.signatures.Scan(data, ext)
		return
	})
	g.Go(func() (err error) {
		defer recovered(&err)
		specific = e.analyze(gctx, data, detected, format, ext, opts)
		return
	})
	if err = g.Wait(); err != nil {
		return
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", datamodel.ErrAnalysisFailed, ctxErr)
		return
	}

	res = datamodel.Result{
		FileInfo: datamodel.FileInfo{
			Path:         filename,
			SizeBytes:    int64(len(data)),
			DetectedType: detected,
		},
		MagicBytesAnalysis:     magic,
		FormatSpecificAnalysis: specific,
		Summary:                summary.Summarize(magic, specific),
		Timestamp:              Now().UTC().Format(time.RFC3339),
	}
	if ext != "" {
		res.FileInfo.Extension = &ext
	}
	scanLogger.Debug("scan done",
		slog.Bool("steganography_detected", res.Summary.SteganographyDetected),
		slog.String("confidence", string(res.Summary.ConfidenceLevel)),
	)
	return
}

func (e *Engine) analyze(ctx context.Context, data []byte, detected datamodel.DetectedType, format, ext string, opts Options) datamodel.FormatSpecificAnalysis {
	switch detected {
	case datamodel.TypeImage:
		// animations are sampled like video, the detected type stays image
		if format == "gif" && video.IsAnimatedGIF(data) {
			return e.video.Analyze(ctx, data, format, opts.VideoSampleRate)
		}
		return e.image.Analyze(ctx, data, opts.Verbose)
	case datamodel.TypeAudio:
		return e.audio.Analyze(ctx, data, format)
	case datamodel.TypeVideo:
		if format == "" {
			format = ext
		}
		return e.video.Analyze(ctx, data, format, opts.VideoSampleRate)
	default:
		return e.text.Analyze(ctx, data, format, ext)
	}
}

// IsInputError reports whether err was caused by the caller.
func IsInputError(err error) bool {
	return errors.Is(err, datamodel.ErrInvalidInput)
}
