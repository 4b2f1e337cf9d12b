package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// Samples is a decoded stream down-mixed to mono in [-1, 1].
type Samples struct {
	SampleRate int
	Channels   int
	Mono       []float64
}

type decodeFunc func(data []byte, maxFrames int) (Samples, error)

var decoders = map[string]decodeFunc{
	"wav":  decodeWAV,
	"mp3":  decodeMP3,
	"flac": decodeFLAC,
	"ogg":  decodeOGG,
}

// sniff guesses the codec when the caller has no signature for data.
func sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(data, []byte("ID3")), len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

// Decode decodes at most maxFrames frames of data, maxFrames <= 0 meaning no limit.
// format is the codec name ("wav", "mp3", "flac", "ogg"), sniffed when empty.
func Decode(data []byte, format string, maxFrames int) (s Samples, err error) {
	if format == "" {
		format = sniff(data)
	}
	decode, ok := decoders[format]
	if !ok {
		err = fmt.Errorf("%w: unsupported audio format %q", datamodel.ErrDecode, format)
		return
	}
	s, err = decode(data, maxFrames)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", datamodel.ErrDecode, format, err)
		return
	}
	if len(s.Mono) == 0 {
		err = fmt.Errorf("%w: %s: no samples", datamodel.ErrDecode, format)
	}
	return
}

func limit(frames, maxFrames int) int {
	if maxFrames > 0 && frames > maxFrames {
		return maxFrames
	}
	return frames
}

func downmix(interleaved func(i int) float64, frames, channels int) []float64 {
	mono := make([]float64, frames)
	for f := range frames {
		var sum float64
		for c := range channels {
			sum += interleaved(f*channels + c)
		}
		mono[f] = sum / float64(channels)
	}
	return mono
}

func decodeWAV(data []byte, maxFrames int) (s Samples, err error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		err = errors.New("invalid wav file")
		return
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return
	}
	s.SampleRate, s.Channels = int(d.SampleRate), int(d.NumChans)
	if s.Channels == 0 || d.BitDepth == 0 {
		err = errors.New("invalid wav format")
		return
	}
	depth := int(d.BitDepth)
	scale := float64(int64(1) << (depth - 1))
	sample := func(i int) float64 {
		if depth == 8 {
			return (float64(buf.Data[i]) - 128) / 128
		}
		return float64(buf.Data[i]) / scale
	}
	frames := limit(len(buf.Data)/s.Channels, maxFrames)
	s.Mono = downmix(sample, frames, s.Channels)
	return
}

func decodeMP3(data []byte, maxFrames int) (s Samples, err error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return
	}
	var r io.Reader = d
	if maxFrames > 0 {
		r = io.LimitReader(d, int64(maxFrames)*4)
	}
	pcm, err := io.ReadAll(r)
	if err != nil {
		return
	}
	// go-mp3 always yields 16-bit little-endian stereo
	s.SampleRate, s.Channels = d.SampleRate(), 2
	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}
	s.Mono = downmix(sample, len(pcm)/4, 2)
	return
}

func decodeFLAC(data []byte, maxFrames int) (s Samples, err error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	s.SampleRate, s.Channels = int(stream.Info.SampleRate), int(stream.Info.NChannels)
	if s.Channels == 0 || stream.Info.BitsPerSample == 0 {
		err = errors.New("invalid flac stream info")
		return
	}
	scale := float64(int64(1) << (stream.Info.BitsPerSample - 1))
	for maxFrames <= 0 || len(s.Mono) < maxFrames {
		frame, parseErr := stream.ParseNext()
		if parseErr == io.EOF {
			break
		}
		if parseErr != nil {
			err = parseErr
			return
		}
		for i := range int(frame.BlockSize) {
			var sum float64
			for _, sub := range frame.Subframes {
				if i < len(sub.Samples) {
					sum += float64(sub.Samples[i]) / scale
				}
			}
			s.Mono = append(s.Mono, sum/float64(len(frame.Subframes)))
		}
	}
	s.Mono = s.Mono[:limit(len(s.Mono), maxFrames)]
	return
}

func decodeOGG(data []byte, maxFrames int) (s Samples, err error) {
	pcm, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return
	}
	s.SampleRate, s.Channels = format.SampleRate, format.Channels
	if s.Channels == 0 {
		err = errors.New("invalid vorbis format")
		return
	}
	sample := func(i int) float64 { return float64(pcm[i]) }
	s.Mono = downmix(sample, limit(len(pcm)/s.Channels, maxFrames), s.Channels)
	return
}
