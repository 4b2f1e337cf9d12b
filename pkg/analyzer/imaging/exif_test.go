package imaging

import (
	"bytes"
	"encoding/binary"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/google/go-cmp/cmp"
)

type exifTag struct {
	id    uint16
	typ   uint16
	value []byte
}

// jpegWithTags builds a JPEG whose APP1 segment carries tags in IFD0. Values
// must be longer than 4 bytes.
func jpegWithTags(t *testing.T, tags ...exifTag) []byte {
	t.Helper()
	tif := &bytes.Buffer{}
	tif.WriteString("II*\x00")
	_ = binary.Write(tif, binary.LittleEndian, uint32(8))
	_ = binary.Write(tif, binary.LittleEndian, uint16(len(tags)))
	offset := 8 + 2 + 12*len(tags) + 4
	for _, tag := range tags {
		_ = binary.Write(tif, binary.LittleEndian, tag.id)
		_ = binary.Write(tif, binary.LittleEndian, tag.typ)
		_ = binary.Write(tif, binary.LittleEndian, uint32(len(tag.value)))
		_ = binary.Write(tif, binary.LittleEndian, uint32(offset))
		offset += len(tag.value)
	}
	_ = binary.Write(tif, binary.LittleEndian, uint32(0))
	for _, tag := range tags {
		tif.Write(tag.value)
	}

	plain := &bytes.Buffer{}
	if err := jpeg.Encode(plain, uniformImage(8, 8), nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}

	out := &bytes.Buffer{}
	out.Write([]byte{0xFF, 0xD8, 0xFF, 0xE1})
	_ = binary.Write(out, binary.BigEndian, uint16(2+6+tif.Len()))
	out.WriteString("Exif\x00\x00")
	out.Write(tif.Bytes())
	out.Write(plain.Bytes()[2:])
	return out.Bytes()
}

func asciiTag(id uint16, value string) exifTag {
	return exifTag{id: id, typ: 2, value: append([]byte(value), 0)}
}

// jpegWithDescription builds a JPEG carrying a single ImageDescription tag.
func jpegWithDescription(t *testing.T, description string) []byte {
	t.Helper()
	return jpegWithTags(t, asciiTag(0x010E, description))
}

// makerNote is dense vendor binary data, as written by cameras.
func makerNote(size int) exifTag {
	v := make([]byte, size)
	state := uint32(2463534242)
	for i := range v {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		v[i] = byte(state)
	}
	return exifTag{id: 0x927C, typ: 7, value: v}
}

func TestAnalyzeExif(t *testing.T) {
	empty := datamodel.ExifReport{
		CommentFields:    []string{},
		SuspiciousFields: []string{},
		Metadata:         []datamodel.MetadataField{},
	}
	encoded := strings.Repeat("QUJD", 20)
	large := strings.Repeat("a nice day ", 100)
	tests := []struct {
		name    string
		data    func(t *testing.T) []byte
		verbose bool
		want    datamodel.ExifReport
	}{
		{
			name: "no data",
			data: func(t *testing.T) []byte { return nil },
			want: empty,
		},
		{
			name: "not an image",
			data: func(t *testing.T) []byte { return []byte("definitely not exif") },
			want: empty,
		},
		{
			name: "plain description",
			data: func(t *testing.T) []byte { return jpegWithDescription(t, "holiday") },
			want: datamodel.ExifReport{
				FieldsFound:      1,
				CommentFields:    []string{"ImageDescription: holiday"},
				SuspiciousFields: []string{},
				Metadata:         []datamodel.MetadataField{},
			},
		},
		{
			name:    "encoded description",
			data:    func(t *testing.T) []byte { return jpegWithDescription(t, encoded) },
			verbose: true,
			want: datamodel.ExifReport{
				FieldsFound:      1,
				CommentFields:    []string{"ImageDescription: " + encoded},
				SuspiciousFields: []string{"ImageDescription: potential encoded data"},
				Metadata:         []datamodel.MetadataField{{Key: "ImageDescription", Value: encoded}},
			},
		},
		{
			name: "large description",
			data: func(t *testing.T) []byte { return jpegWithDescription(t, large) },
			want: datamodel.ExifReport{
				FieldsFound:      1,
				CommentFields:    []string{"ImageDescription: " + large},
				SuspiciousFields: []string{"ImageDescription: unusually large (1100+ bytes)"},
				Metadata:         []datamodel.MetadataField{},
			},
		},
		{
			name: "binary maker note",
			data: func(t *testing.T) []byte { return jpegWithTags(t, makerNote(300)) },
			want: datamodel.ExifReport{
				FieldsFound:      1,
				CommentFields:    []string{},
				SuspiciousFields: []string{},
				Metadata:         []datamodel.MetadataField{},
			},
		},
		{
			name: "large maker note next to a plain description",
			data: func(t *testing.T) []byte {
				return jpegWithTags(t, asciiTag(0x010E, "holiday"), makerNote(4096))
			},
			want: datamodel.ExifReport{
				FieldsFound:      2,
				CommentFields:    []string{"ImageDescription: holiday"},
				SuspiciousFields: []string{},
				Metadata:         []datamodel.MetadataField{},
			},
		},
		{
			name: "encoded artist",
			data: func(t *testing.T) []byte { return jpegWithTags(t, asciiTag(0x013B, encoded)) },
			want: datamodel.ExifReport{
				FieldsFound:      1,
				CommentFields:    []string{},
				SuspiciousFields: []string{"Artist: potential encoded data"},
				Metadata:         []datamodel.MetadataField{},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeExif(tt.data(t), ExifThresholds{}, tt.verbose)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("AnalyzeExif() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
