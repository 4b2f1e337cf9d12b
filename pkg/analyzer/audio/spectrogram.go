package audio

import (
	"math"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	DefaultWindowSize       = 2048
	DefaultHopSize          = 512
	DefaultCutoffHz         = 15000.0
	DefaultEnergyThreshold  = 0.1
	DefaultPersistenceRatio = 0.25
	DefaultMinPersistent    = 2
	DefaultSpikeFactor      = 10.0

	PatternPersistentTone = "Persistent high-frequency tone detected"
	PatternEnergySpikes   = "Unusual energy spikes detected"
)

type SpectrogramConfig struct {
	WindowSize int     `yaml:"window_size" mapstructure:"window_size"`
	HopSize    int     `yaml:"hop_size" mapstructure:"hop_size"`
	CutoffHz   float64 `yaml:"cutoff_hz" mapstructure:"cutoff_hz"`
	// EnergyThreshold is the high band share of a window's energy above which the window is elevated.
	EnergyThreshold float64 `yaml:"energy_threshold" mapstructure:"energy_threshold"`
	// PersistenceRatio is the share of windows the longest elevated run must exceed.
	PersistenceRatio float64 `yaml:"persistence_ratio" mapstructure:"persistence_ratio"`
	MinPersistent    int     `yaml:"min_persistent_windows" mapstructure:"min_persistent_windows"`
	SpikeFactor      float64 `yaml:"spike_factor" mapstructure:"spike_factor"`
}

func (c SpectrogramConfig) withDefaults() SpectrogramConfig {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.HopSize <= 0 {
		c.HopSize = DefaultHopSize
	}
	if c.CutoffHz <= 0 {
		c.CutoffHz = DefaultCutoffHz
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.PersistenceRatio <= 0 {
		c.PersistenceRatio = DefaultPersistenceRatio
	}
	if c.MinPersistent <= 0 {
		c.MinPersistent = DefaultMinPersistent
	}
	if c.SpikeFactor <= 0 {
		c.SpikeFactor = DefaultSpikeFactor
	}
	return c
}

// cutoffBin is the first FFT bin of the high band. The cutoff never goes past
// the upper quarter of the representable spectrum.
func (c SpectrogramConfig) cutoffBin(sampleRate int) int {
	cutoff := math.Min(c.CutoffHz, 0.75*float64(sampleRate)/2)
	return int(math.Ceil(cutoff * float64(c.WindowSize) / float64(sampleRate)))
}

type windowEnergy struct {
	total float64
	high  float64
}

// AnalyzeSpectrogram measures the share of energy above the cutoff in
// overlapping Hann windows. A hidden message is reported when elevated windows
// form a run longer than PersistenceRatio of all windows.
func AnalyzeSpectrogram(s Samples, config SpectrogramConfig) (r datamodel.SpectrogramReport) {
	config = config.withDefaults()
	r.SuspiciousPatterns = []string{}
	r.SampleRate = s.SampleRate
	if len(s.Mono) == 0 || s.SampleRate <= 0 {
		return
	}

	n := config.WindowSize
	fft := fourier.NewFFT(n)
	start := config.cutoffBin(s.SampleRate)
	seq := make([]float64, n)
	var coeffs []complex128

	var windows []windowEnergy
	for off := 0; off == 0 || off+n <= len(s.Mono); off += config.HopSize {
		// signals shorter than one window are zero padded
		clear(seq)
		copy(seq, s.Mono[off:min(off+n, len(s.Mono))])
		window.Hann(seq)
		coeffs = fft.Coefficients(coeffs, seq)
		var w windowEnergy
		for i, c := range coeffs {
			e := real(c)*real(c) + imag(c)*imag(c)
			w.total += e
			if i >= start {
				w.high += e
			}
		}
		windows = append(windows, w)
	}
	r.WindowCount = len(windows)

	var total, high float64
	run, longest := 0, 0
	for _, w := range windows {
		total += w.total
		high += w.high
		if w.total > 0 && w.high/w.total > config.EnergyThreshold {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	if total > 0 {
		r.HighFrequencyEnergy = high / total
	}
	if longest >= config.MinPersistent && float64(longest) > float64(len(windows))*config.PersistenceRatio {
		r.HiddenMessageDetected = true
		r.SuspiciousPatterns = append(r.SuspiciousPatterns, PatternPersistentTone)
	}

	if len(windows) > 1 {
		mean := total / float64(len(windows))
		spikes := 0
		for _, w := range windows {
			if w.total > config.SpikeFactor*mean {
				spikes++
			}
		}
		if spikes > 0 && spikes <= len(windows)/10 {
			r.SuspiciousPatterns = append(r.SuspiciousPatterns, PatternEnergySpikes)
		}
	}
	return
}
