package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"golang.org/x/image/riff"
)

// DecodeFunc decodes one frame on demand.
type DecodeFunc func() (image.Image, error)

// FrameSource walks the frames of a container.
type FrameSource interface {
	// Sampled calls yield, in index order, for every frame whose index is a multiple of rate.
	Sampled(ctx context.Context, rate int, yield func(index int, decode DecodeFunc) error) error
}

var (
	ErrNotAVI   = errors.New("not an AVI file")
	ErrNoFFmpeg = errors.New("ffmpeg not found")
)

var (
	listMovi = riff.FourCC{'m', 'o', 'v', 'i'}
	formAVI  = riff.FourCC{'A', 'V', 'I', ' '}
)

// AVISource reads Motion-JPEG frames from the movi list of an AVI file.
type AVISource struct {
	data []byte
}

func NewAVISource(data []byte) *AVISource {
	return &AVISource{data: data}
}

func isVideoChunk(id riff.FourCC) bool {
	return (id[2] == 'd' && id[3] == 'c') || (id[2] == 'd' && id[3] == 'b')
}

func (s *AVISource) Sampled(ctx context.Context, rate int, yield func(index int, decode DecodeFunc) error) (err error) {
	formType, r, err := riff.NewReader(bytes.NewReader(s.data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotAVI, err)
	}
	if formType != formAVI {
		return fmt.Errorf("%w: form type %q", ErrNotAVI, formType[:])
	}
	index := 0
	return s.walk(ctx, r, rate, &index, false, yield)
}

func (s *AVISource) walk(ctx context.Context, r *riff.Reader, rate int, index *int, inMovi bool, yield func(int, DecodeFunc) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, length, chunk, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if id == riff.LIST {
			listType, list, err := riff.NewListReader(length, chunk)
			if err != nil {
				return err
			}
			if err := s.walk(ctx, list, rate, index, inMovi || listType == listMovi, yield); err != nil {
				return err
			}
			continue
		}
		if !inMovi || !isVideoChunk(id) {
			continue
		}
		i := *index
		*index++
		if i%rate != 0 {
			continue
		}
		frame, err := io.ReadAll(chunk)
		if err != nil {
			return err
		}
		if err := yield(i, func() (image.Image, error) { return jpeg.Decode(bytes.NewReader(frame)) }); err != nil {
			return err
		}
	}
}

// GIFSource yields the frames of an animated GIF, composited over the previous
// frame as a viewer would draw them.
type GIFSource struct {
	data []byte
}

func NewGIFSource(data []byte) *GIFSource {
	return &GIFSource{data: data}
}

func (s *GIFSource) Sampled(ctx context.Context, rate int, yield func(index int, decode DecodeFunc) error) (err error) {
	g, err := gif.DecodeAll(bytes.NewReader(s.data))
	if err != nil {
		return
	}
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	canvas := image.NewNRGBA(bounds)
	for i, frame := range g.Image {
		if err = ctx.Err(); err != nil {
			return
		}
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		if i%rate != 0 {
			continue
		}
		snapshot := image.NewNRGBA(bounds)
		copy(snapshot.Pix, canvas.Pix)
		if err = yield(i, func() (image.Image, error) { return snapshot, nil }); err != nil {
			return
		}
	}
	return
}

// IsAnimatedGIF reports whether data is a GIF holding more than one frame.
// Only the block structure is walked, no frame is decoded.
func IsAnimatedGIF(data []byte) bool {
	if len(data) < 13 || (string(data[:6]) != "GIF87a" && string(data[:6]) != "GIF89a") {
		return false
	}
	p := 13
	if data[10]&0x80 != 0 {
		p += 3 << (data[10]&0x07 + 1)
	}
	frames := 0
	for p < len(data) {
		switch data[p] {
		case 0x21: // extension
			p = skipSubBlocks(data, p+2)
		case 0x2C: // image descriptor
			if p+10 > len(data) {
				return false
			}
			packed := data[p+9]
			p += 10
			if packed&0x80 != 0 {
				p += 3 << (packed&0x07 + 1)
			}
			// LZW minimum code size, then the image data
			p = skipSubBlocks(data, p+1)
			if frames++; frames > 1 {
				return true
			}
		default:
			return false
		}
	}
	return false
}

func skipSubBlocks(data []byte, p int) int {
	for p < len(data) {
		n := int(data[p])
		p++
		if n == 0 {
			return p
		}
		p += n
	}
	return len(data)
}

// FFmpegSource decodes any container ffmpeg understands, letting ffmpeg drop
// the frames that are not sampled.
type FFmpegSource struct {
	path string
	data []byte
}

func NewFFmpegSource(path string, data []byte) *FFmpegSource {
	return &FFmpegSource{path: path, data: data}
}

func (s *FFmpegSource) Sampled(ctx context.Context, rate int, yield func(index int, decode DecodeFunc) error) (err error) {
	if s.path == "" {
		return ErrNoFFmpeg
	}
	in, err := os.CreateTemp("", "stegascan_video_*")
	if err != nil {
		return
	}
	defer func() {
		if removeErr := os.Remove(in.Name()); removeErr != nil {
			logger.Warn("could not remove temp video", slog.String("file", in.Name()), slog.String("error", removeErr.Error()))
		}
	}()
	if _, err = in.Write(s.data); err != nil {
		_ = in.Close()
		return
	}
	if err = in.Close(); err != nil {
		return
	}

	cmd := exec.CommandContext(ctx, s.path,
		"-v", "error",
		"-i", in.Name(),
		"-vf", fmt.Sprintf(`select=not(mod(n\,%d))`, rate),
		"-vsync", "0",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return
	}
	if err = cmd.Start(); err != nil {
		return
	}

	out := bufio.NewReader(stdout)
	var yieldErr error
	for k := 0; ; k++ {
		if _, peekErr := out.Peek(1); peekErr != nil {
			break
		}
		img, decodeErr := png.Decode(out)
		if decodeErr != nil {
			// the stream cannot be resynchronized after a broken frame
			yieldErr = yield(k*rate, func() (image.Image, error) { return nil, decodeErr })
			break
		}
		if yieldErr = yield(k*rate, func() (image.Image, error) { return img, nil }); yieldErr != nil {
			break
		}
	}
	_, _ = io.Copy(io.Discard, out)
	if waitErr := cmd.Wait(); waitErr != nil && yieldErr == nil {
		return fmt.Errorf("ffmpeg: %w: %s", waitErr, bytes.TrimSpace(stderr.Bytes()))
	}
	return yieldErr
}
