package signatures

import (
	"testing"

	"github.com/glimps-re/stegascan/pkg/datamodel"
)

func TestScanner_Classify(t *testing.T) {
	sc := NewScanner(nil, Config{})
	tests := []struct {
		name      string
		data      []byte
		extension string
		want      datamodel.DetectedType
	}{
		{name: "empty", want: datamodel.TypeText},
		{name: "png", data: []byte("\x89PNG\r\n\x1a\n0000"), extension: "txt", want: datamodel.TypeImage},
		{name: "wav", data: wavHeader(8), want: datamodel.TypeAudio},
		{name: "avi", data: []byte("RIFF\x00\x00\x00\x00AVI LIST"), want: datamodel.TypeVideo},
		{name: "quicktime", data: []byte("\x00\x00\x00\x14ftypqt  \x00\x00\x00\x00"), want: datamodel.TypeVideo},
		{name: "m4a beats generic ftyp", data: []byte("\x00\x00\x00\x14ftypM4A \x00\x00\x00\x00"), want: datamodel.TypeAudio},
		{name: "zip is analyzed as text", data: []byte("PK\x03\x04rest"), want: datamodel.TypeText},
		{name: "extension fallback", data: []byte("plain bytes"), extension: "mp3", want: datamodel.TypeAudio},
		{name: "unknown extension", data: []byte("plain bytes"), extension: "xyz", want: datamodel.TypeText},
		{name: "embedded only", data: append([]byte("hello "), []byte("\x89PNG\r\n\x1a\n")...), want: datamodel.TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sc.Classify(tt.data, tt.extension); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"cover.PNG", "png"},
		{"/tmp/a.b/track.mp3", "mp3"},
		{"README", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Extension(tt.filename); got != tt.want {
			t.Errorf("Extension(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
