package audio

import (
	"context"
	"log/slog"
	"os"

	"github.com/glimps-re/stegascan/pkg/datamodel"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

// DefaultMaxSamples bounds decoding to about ten minutes of 48kHz audio.
const DefaultMaxSamples = 48000 * 600

type Config struct {
	ID3         ID3Thresholds     `yaml:"id3" mapstructure:"id3"`
	Spectrogram SpectrogramConfig `yaml:"spectrogram" mapstructure:"spectrogram"`
	MaxSamples  int               `yaml:"max_samples" mapstructure:"max_samples"`
}

type Analyzer struct {
	config Config
}

func NewAnalyzer(config Config) *Analyzer {
	config.ID3 = config.ID3.withDefaults()
	config.Spectrogram = config.Spectrogram.withDefaults()
	if config.MaxSamples <= 0 {
		config.MaxSamples = DefaultMaxSamples
	}
	return &Analyzer{config: config}
}

// Analyze inspects tags then the spectrum of data. format is the codec name of
// the primary signature, "" to sniff it. Failing to decode any sample is a
// layer error; the tag report is kept.
func (a *Analyzer) Analyze(ctx context.Context, data []byte, format string) (res datamodel.AudioAnalysis) {
	id3 := AnalyzeID3(data, a.config.ID3)
	res.ID3Analysis = &id3

	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return
	}
	samples, err := Decode(data, format, a.config.MaxSamples)
	if err != nil {
		logger.Debug("could not decode audio", slog.String("format", format), slog.String("error", err.Error()))
		res.Error = err.Error()
		return
	}
	res.SampleCount = len(samples.Mono)
	spectrogram := AnalyzeSpectrogram(samples, a.config.Spectrogram)
	res.SpectrogramAnalysis = &spectrogram
	logger.Debug("audio analyzed",
		slog.Int("sample_rate", samples.SampleRate),
		slog.Int("samples", res.SampleCount),
		slog.Float64("high_frequency_energy", spectrogram.HighFrequencyEnergy),
		slog.Bool("hidden_message", spectrogram.HiddenMessageDetected),
	)
	return
}
