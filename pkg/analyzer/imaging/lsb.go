package imaging

import (
	"math"

	"github.com/glimps-re/stegascan/pkg/datamodel"
)

const (
	DefaultChiSquareThreshold = 100.0
	DefaultEntropyThreshold   = 0.9
)

type LSBThresholds struct {
	ChiSquare float64 `yaml:"chi_square" mapstructure:"chi_square"`
	Entropy   float64 `yaml:"entropy" mapstructure:"entropy"`
}

func (t LSBThresholds) withDefaults() LSBThresholds {
	if t.ChiSquare <= 0 {
		t.ChiSquare = DefaultChiSquareThreshold
	}
	if t.Entropy <= 0 {
		t.Entropy = DefaultEntropyThreshold
	}
	return t
}

// AnalyzeLSB scores the least significant bit plane of every channel. A
// channel is suspicious when both its chi-square and entropy scores exceed
// their thresholds, the buffer when any channel is.
func AnalyzeLSB(pb PixelBuffer, th LSBThresholds) (r datamodel.LSBReport) {
	th = th.withDefaults()
	r.Channels = make([]datamodel.LSBChannel, 0, len(pb.Channels))
	for _, c := range pb.Channels {
		chi, entropy := ChannelScores(c.Values)
		ch := datamodel.LSBChannel{
			ChannelName:    c.Name,
			ChiSquareScore: chi,
			EntropyScore:   entropy,
			Suspicious:     chi > th.ChiSquare && entropy > th.Entropy,
		}
		r.IsSuspicious = r.IsSuspicious || ch.Suspicious
		r.Channels = append(r.Channels, ch)
	}
	return
}

// ChannelScores returns the pairs-of-values chi-square statistic of the
// channel histogram, comparing the count of every even value 2k with the count
// of 2k+1, and the binary Shannon entropy of the LSB sequence.
func ChannelScores(values []uint8) (chi, entropy float64) {
	var h [256]int
	var ones int
	for _, v := range values {
		h[v]++
		ones += int(v & 1)
	}

	for k := 0; k < len(h); k += 2 {
		expected := float64(h[k]+h[k+1]) / 2
		if expected == 0 {
			continue
		}
		for _, observed := range h[k : k+2] {
			d := float64(observed) - expected
			chi += d * d / expected
		}
	}

	if len(values) > 0 {
		for _, count := range []int{ones, len(values) - ones} {
			if count == 0 {
				continue
			}
			p := float64(count) / float64(len(values))
			entropy -= p * math.Log2(p)
		}
	}
	return
}
