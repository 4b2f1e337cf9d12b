package imaging

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/glimps-re/stegascan/pkg/analyzer"
	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

const (
	DefaultLargeFieldSize   = 1000
	DefaultEncodedMinLength = 50
	DefaultEncodedRatio     = 0.9
	DefaultByteEntropy      = 5.5
)

type ExifThresholds struct {
	// LargeFieldSize flags a text field value longer than this.
	LargeFieldSize int `yaml:"large_field_size" mapstructure:"large_field_size"`
	// EncodedMinLength is the shortest value checked for encoded content.
	EncodedMinLength int `yaml:"encoded_min_length" mapstructure:"encoded_min_length"`
	// EncodedRatio is the share of base64 alphabet characters above which a value looks encoded.
	EncodedRatio float64 `yaml:"encoded_ratio" mapstructure:"encoded_ratio"`
	// ByteEntropy in bits per byte above which a value looks encoded.
	ByteEntropy float64 `yaml:"byte_entropy" mapstructure:"byte_entropy"`
}

func (t ExifThresholds) withDefaults() ExifThresholds {
	if t.LargeFieldSize <= 0 {
		t.LargeFieldSize = DefaultLargeFieldSize
	}
	if t.EncodedMinLength <= 0 {
		t.EncodedMinLength = DefaultEncodedMinLength
	}
	if t.EncodedRatio <= 0 {
		t.EncodedRatio = DefaultEncodedRatio
	}
	if t.ByteEntropy <= 0 {
		t.ByteEntropy = DefaultByteEntropy
	}
	return t
}

var commentTags = map[exif.FieldName]bool{
	exif.UserComment:      true,
	exif.ImageDescription: true,
}

// userTextTags hold free text typed by people. Only those are checked for
// hidden content: binary fields such as MakerNote are dense by nature.
var userTextTags = map[exif.FieldName]bool{
	exif.UserComment:      true,
	exif.ImageDescription: true,
	exif.Artist:           true,
	exif.Copyright:        true,
}

type exifField struct {
	name  exif.FieldName
	value string
}

type fieldCollector []exifField

func (c *fieldCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	*c = append(*c, exifField{name: name, value: tagValue(name, tag)})
	return nil
}

// userCommentPrefixes are the 8-byte character code headers of UserComment.
var userCommentPrefixes = []string{"ASCII\x00\x00\x00", "UNICODE\x00", "JIS\x00\x00\x00\x00\x00", "\x00\x00\x00\x00\x00\x00\x00\x00"}

func tagValue(name exif.FieldName, tag *tiff.Tag) string {
	switch tag.Format() {
	case tiff.StringVal:
		s, err := tag.StringVal()
		if err != nil {
			return ""
		}
		return strings.TrimRight(s, "\x00")
	case tiff.UndefVal:
		v := tag.Val
		if name == exif.UserComment {
			for _, p := range userCommentPrefixes {
				if bytes.HasPrefix(v, []byte(p)) {
					v = v[len(p):]
					break
				}
			}
		}
		return string(bytes.TrimRight(v, "\x00"))
	default:
		return tag.String()
	}
}

// AnalyzeExif inspects the EXIF block of data. Absent or malformed metadata
// yields an empty report.
func AnalyzeExif(data []byte, th ExifThresholds, verbose bool) (r datamodel.ExifReport) {
	th = th.withDefaults()
	r = datamodel.ExifReport{
		CommentFields:    []string{},
		SuspiciousFields: []string{},
		Metadata:         []datamodel.MetadataField{},
	}
	if len(data) == 0 {
		return
	}
	x, err := exif.Decode(bytes.NewReader(data))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return
	}

	var fields fieldCollector
	if err := x.Walk(&fields); err != nil {
		logger.Debug("exif walk stopped", slog.String("error", err.Error()))
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	r.FieldsFound = len(fields)
	for _, f := range fields {
		if verbose {
			r.Metadata = append(r.Metadata, datamodel.MetadataField{Key: string(f.name), Value: f.value})
		}
		if commentTags[f.name] {
			r.CommentFields = append(r.CommentFields, fmt.Sprintf("%s: %s", f.name, f.value))
		}
		if !userTextTags[f.name] {
			continue
		}
		if len(f.value) > th.LargeFieldSize {
			r.SuspiciousFields = append(r.SuspiciousFields, fmt.Sprintf("%s: unusually large (%d+ bytes)", f.name, len(f.value)))
		}
		if looksEncoded(f.value, th) {
			r.SuspiciousFields = append(r.SuspiciousFields, fmt.Sprintf("%s: potential encoded data", f.name))
		}
	}

	if _, err := x.Get(exif.ThumbJPEGInterchangeFormat); err == nil {
		r.HasThumbnail = true
		if tag, err := x.Get(exif.ThumbJPEGInterchangeFormatLength); err == nil {
			if size, err := tag.Int(0); err == nil {
				r.ThumbnailSizeBytes = &size
			}
		}
	}
	return
}

func looksEncoded(s string, th ExifThresholds) bool {
	return analyzer.LooksEncoded(s, th.EncodedMinLength, th.EncodedRatio, th.ByteEntropy)
}
