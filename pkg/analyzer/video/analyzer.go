package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"sync"

	"github.com/glimps-re/stegascan/pkg/analyzer/imaging"
	"github.com/glimps-re/stegascan/pkg/datamodel"
	"golang.org/x/sync/errgroup"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

const DefaultSampleRate = 30

type Config struct {
	// Workers bounds the number of frames decoded at once.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// FFmpegPath is looked up in PATH when empty.
	FFmpegPath string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	// HistogramPairFactor flags a frame when an even/odd histogram pair
	// differs by more than this many times the mean bin count.
	HistogramPairFactor float64 `yaml:"histogram_pair_factor" mapstructure:"histogram_pair_factor"`
}

type Analyzer struct {
	config Config
	lsb    imaging.LSBThresholds
	// NewSource picks the frame source of a container, format being its signature id.
	NewSource func(data []byte, format string) FrameSource
}

// LookPath could be overridden in tests
var LookPath = exec.LookPath

func NewAnalyzer(config Config, lsb imaging.LSBThresholds) (a *Analyzer) {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.FFmpegPath == "" {
		if path, err := LookPath("ffmpeg"); err == nil {
			config.FFmpegPath = path
		} else {
			logger.Warn("ffmpeg not found, only AVI/MJPEG and GIF video will be decoded", slog.String("error", err.Error()))
		}
	}
	if config.HistogramPairFactor <= 0 {
		config.HistogramPairFactor = 3
	}
	a = &Analyzer{config: config, lsb: lsb}
	a.NewSource = a.defaultSource
	return
}

func (a *Analyzer) defaultSource(data []byte, format string) FrameSource {
	if format == "gif" {
		return NewGIFSource(data)
	}
	if format == "avi" {
		native := NewAVISource(data)
		if a.config.FFmpegPath == "" {
			return native
		}
		return &fallbackSource{primary: native, secondary: NewFFmpegSource(a.config.FFmpegPath, data)}
	}
	return NewFFmpegSource(a.config.FFmpegPath, data)
}

type frameResult struct {
	index      int
	err        error
	suspicious bool
	histogram  bool
}

// Analyze runs the LSB analysis on every sampleRate-th frame of data.
func (a *Analyzer) Analyze(ctx context.Context, data []byte, format string, sampleRate int) (res datamodel.VideoAnalysis) {
	res.SampleRate = sampleRate
	res.SuspiciousFrames = []int{}
	if sampleRate < 1 {
		res.Error = datamodel.ErrInvalidSampleRate.Error()
		return
	}

	var (
		lock    sync.Mutex
		results []frameResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Workers)
	walkErr := a.NewSource(data, format).Sampled(gctx, sampleRate, func(index int, decode DecodeFunc) error {
		g.Go(func() error {
			r := a.analyzeFrame(index, decode)
			lock.Lock()
			results = append(results, r)
			lock.Unlock()
			return nil
		})
		return gctx.Err()
	})
	if err := g.Wait(); err != nil && walkErr == nil {
		walkErr = err
	}

	slices.SortFunc(results, func(x, y frameResult) int { return x.index - y.index })
	for _, r := range results {
		if r.err != nil {
			res.ErrorsEncountered++
			logger.Debug("skipping undecodable frame", slog.Int("frame", r.index), slog.String("error", r.err.Error()))
			continue
		}
		res.FramesProcessed++
		if r.suspicious {
			res.SuspiciousFrames = append(res.SuspiciousFrames, r.index)
		}
		if r.histogram {
			res.HistogramAnomalyFrames = append(res.HistogramAnomalyFrames, r.index)
		}
	}

	switch {
	case walkErr != nil && res.FramesProcessed == 0:
		res.Error = fmt.Errorf("%w: %w", datamodel.ErrDecode, walkErr).Error()
	case walkErr != nil:
		// a truncated stream keeps the frames read so far
		res.ErrorsEncountered++
		logger.Warn("video stream ended early", slog.String("error", walkErr.Error()))
	case res.FramesProcessed == 0 && res.ErrorsEncountered > 0:
		res.Error = fmt.Errorf("%w: none of %d sampled frames could be decoded", datamodel.ErrDecode, res.ErrorsEncountered).Error()
	}
	return
}

func (a *Analyzer) analyzeFrame(index int, decode DecodeFunc) (r frameResult) {
	r.index = index
	defer func() {
		if p := recover(); p != nil {
			r.err = fmt.Errorf("%w: frame %d: %v", datamodel.ErrDecode, index, p)
		}
	}()
	img, err := decode()
	if err != nil {
		r.err = err
		return
	}
	pb := imaging.FromImage(img)
	r.suspicious = imaging.AnalyzeLSB(pb, a.lsb).IsSuspicious
	r.histogram = histogramAnomaly(pb, a.config.HistogramPairFactor)
	return
}

// histogramAnomaly reports an even/odd value pair whose counts differ by more
// than factor times the mean bin count in any color channel.
func histogramAnomaly(pb imaging.PixelBuffer, factor float64) bool {
	for _, c := range pb.Channels {
		if c.Name == imaging.ChannelAlpha || len(c.Values) == 0 {
			continue
		}
		var h [256]int
		for _, v := range c.Values {
			h[v]++
		}
		limit := factor * float64(len(c.Values)) / 256
		for k := 0; k < 256; k += 2 {
			d := h[k] - h[k+1]
			if d < 0 {
				d = -d
			}
			if float64(d) > limit {
				return true
			}
		}
	}
	return false
}

var errFallback = errors.New("first frame not decodable natively")

// fallbackSource reads secondary when the first sampled frame of primary
// cannot be decoded, or primary has no frame at all.
type fallbackSource struct {
	primary   FrameSource
	secondary FrameSource
}

func (s *fallbackSource) Sampled(ctx context.Context, rate int, yield func(index int, decode DecodeFunc) error) error {
	checked, native := false, false
	err := s.primary.Sampled(ctx, rate, func(index int, decode DecodeFunc) error {
		if !checked {
			checked = true
			if _, err := decode(); err != nil {
				return errFallback
			}
			native = true
		}
		return yield(index, decode)
	})
	if native {
		return err
	}
	logger.Debug("native demux unusable, trying ffmpeg", slog.Bool("checked", checked))
	return s.secondary.Sampled(ctx, rate, yield)
}
