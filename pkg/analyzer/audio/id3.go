package audio

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/glimps-re/stegascan/pkg/analyzer"
	"github.com/glimps-re/stegascan/pkg/datamodel"
)

const (
	DefaultCommentSize      = 500
	DefaultLyricsSize       = 10000
	DefaultPictureSize      = 5_000_000
	DefaultPrivateFrameSize = 1000
	DefaultEncodedMinLength = 50
	DefaultEncodedRatio     = 0.9
)

type ID3Thresholds struct {
	CommentSize      int     `yaml:"comment_size" mapstructure:"comment_size"`
	LyricsSize       int     `yaml:"lyrics_size" mapstructure:"lyrics_size"`
	PictureSize      int     `yaml:"picture_size" mapstructure:"picture_size"`
	PrivateFrameSize int     `yaml:"private_frame_size" mapstructure:"private_frame_size"`
	EncodedMinLength int     `yaml:"encoded_min_length" mapstructure:"encoded_min_length"`
	EncodedRatio     float64 `yaml:"encoded_ratio" mapstructure:"encoded_ratio"`
}

func (t ID3Thresholds) withDefaults() ID3Thresholds {
	if t.CommentSize <= 0 {
		t.CommentSize = DefaultCommentSize
	}
	if t.LyricsSize <= 0 {
		t.LyricsSize = DefaultLyricsSize
	}
	if t.PictureSize <= 0 {
		t.PictureSize = DefaultPictureSize
	}
	if t.PrivateFrameSize <= 0 {
		t.PrivateFrameSize = DefaultPrivateFrameSize
	}
	if t.EncodedMinLength <= 0 {
		t.EncodedMinLength = DefaultEncodedMinLength
	}
	if t.EncodedRatio <= 0 {
		t.EncodedRatio = DefaultEncodedRatio
	}
	return t
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// AnalyzeID3 inspects the ID3v2 tag at the head of data. Data without a tag
// yields an empty report.
func AnalyzeID3(data []byte, th ID3Thresholds) (r datamodel.ID3Report) {
	th = th.withDefaults()
	r.SuspiciousFrames = []string{}
	if !bytes.HasPrefix(data, []byte("ID3")) {
		return
	}
	tag, err := id3v2.ParseReader(bytes.NewReader(data), id3v2.Options{Parse: true})
	if err != nil {
		logger.Debug("could not parse id3 tag", slog.String("error", err.Error()))
		return
	}
	r.Title = optional(tag.Title())
	r.Artist = optional(tag.Artist())
	r.Album = optional(tag.Album())
	if y := tag.Year(); len(y) >= 4 {
		if year, err := strconv.Atoi(y[:4]); err == nil {
			r.Year = &year
		}
	}

	for _, f := range tag.GetFrames(tag.CommonID("Comments")) {
		c, ok := f.(id3v2.CommentFrame)
		if !ok {
			continue
		}
		r.CommentsCount++
		if len(c.Text) > th.CommentSize {
			r.SuspiciousFrames = append(r.SuspiciousFrames, fmt.Sprintf("Large comment field: %d bytes", len(c.Text)))
		}
		if analyzer.LooksEncoded(c.Text, th.EncodedMinLength, th.EncodedRatio, 0) {
			r.SuspiciousFrames = append(r.SuspiciousFrames, "Comment contains potential encoded data")
		}
	}

	if frames := tag.GetFrames(tag.CommonID("Unsynchronised lyrics/text transcription")); len(frames) > 0 {
		if l, ok := frames[0].(id3v2.UnsynchronisedLyricsFrame); ok && len(l.Lyrics) > th.LyricsSize {
			r.SuspiciousFrames = append(r.SuspiciousFrames, fmt.Sprintf("Unusually large lyrics: %d bytes", len(l.Lyrics)))
		}
	}

	for _, f := range tag.GetFrames(tag.CommonID("Attached picture")) {
		p, ok := f.(id3v2.PictureFrame)
		if !ok {
			continue
		}
		r.PicturesCount++
		if len(p.Picture) > th.PictureSize {
			r.SuspiciousFrames = append(r.SuspiciousFrames, fmt.Sprintf("Large embedded picture: %d MB", len(p.Picture)/1_000_000))
		}
	}

	for _, f := range tag.GetFrames("PRIV") {
		r.PrivateFramesCount++
		if size := frameSize(f); size > th.PrivateFrameSize {
			r.SuspiciousFrames = append(r.SuspiciousFrames, fmt.Sprintf("Large private frame: ~%d bytes", size))
		}
	}

	for _, f := range tag.GetFrames("GEOB") {
		r.SuspiciousFrames = append(r.SuspiciousFrames, fmt.Sprintf("Encapsulated object frame: %d bytes", frameSize(f)))
	}
	return
}

func frameSize(f id3v2.Framer) int {
	if u, ok := f.(id3v2.UnknownFrame); ok {
		return len(u.Body)
	}
	return f.Size()
}
