package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"

	// decoders registered for image.Decode
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/glimps-re/stegascan/pkg/datamodel"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

type Config struct {
	LSB  LSBThresholds  `yaml:"lsb" mapstructure:"lsb"`
	Exif ExifThresholds `yaml:"exif" mapstructure:"exif"`
}

type Analyzer struct {
	config Config
}

func NewAnalyzer(config Config) *Analyzer {
	config.LSB = config.LSB.withDefaults()
	config.Exif = config.Exif.withDefaults()
	return &Analyzer{config: config}
}

// LSBThresholds returns the thresholds applied to decoded pixels.
func (a *Analyzer) LSBThresholds() LSBThresholds {
	return a.config.LSB
}

// Analyze runs metadata inspection then LSB analysis on an encoded image.
// A decode failure only drops the LSB part and is reported in Error.
func (a *Analyzer) Analyze(ctx context.Context, data []byte, verbose bool) (res datamodel.ImageAnalysis) {
	exifReport := AnalyzeExif(data, a.config.Exif, verbose)
	res.ExifMetadata = &exifReport

	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.Debug("could not decode image", slog.String("error", err.Error()))
		res.Error = fmt.Errorf("%w: %w", datamodel.ErrDecode, err).Error()
		return
	}
	pb := FromImage(img)
	res.Dimensions = datamodel.ImageDimensions{Width: pb.Width, Height: pb.Height}
	lsb := AnalyzeLSB(pb, a.config.LSB)
	res.LSBAnalysis = &lsb
	logger.Debug("image analyzed", slog.String("format", format), slog.Int("width", pb.Width), slog.Int("height", pb.Height), slog.Bool("suspicious", lsb.IsSuspicious))
	return
}
