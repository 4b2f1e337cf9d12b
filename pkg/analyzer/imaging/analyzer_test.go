package imaging

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/glimps-re/stegascan/pkg/datamodel"
)

func TestAnalyzer_Analyze(t *testing.T) {
	a := NewAnalyzer(Config{})
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "suspicious png",
			test: func(t *testing.T) {
				buf := &bytes.Buffer{}
				if err := png.Encode(buf, splitImage(32, 16)); err != nil {
					t.Fatalf("png.Encode() error = %v", err)
				}
				res := a.Analyze(t.Context(), buf.Bytes(), false)
				if res.Error != "" {
					t.Fatalf("Analyze() error = %s", res.Error)
				}
				if res.Dimensions != (datamodel.ImageDimensions{Width: 32, Height: 16}) {
					t.Errorf("Analyze() Dimensions = %+v", res.Dimensions)
				}
				if res.LSBAnalysis == nil || !res.LSBAnalysis.IsSuspicious {
					t.Errorf("Analyze() LSBAnalysis = %+v, want suspicious", res.LSBAnalysis)
				}
				if res.ExifMetadata == nil || res.ExifMetadata.FieldsFound != 0 {
					t.Errorf("Analyze() ExifMetadata = %+v, want empty report", res.ExifMetadata)
				}
			},
		},
		{
			name: "jpeg with exif",
			test: func(t *testing.T) {
				res := a.Analyze(t.Context(), jpegWithDescription(t, "holiday"), false)
				if res.Error != "" {
					t.Fatalf("Analyze() error = %s", res.Error)
				}
				if res.ExifMetadata.FieldsFound != 1 {
					t.Errorf("Analyze() FieldsFound = %d, want 1", res.ExifMetadata.FieldsFound)
				}
				if res.Dimensions.Width != 8 {
					t.Errorf("Analyze() Dimensions = %+v", res.Dimensions)
				}
			},
		},
		{
			name: "undecodable",
			test: func(t *testing.T) {
				res := a.Analyze(t.Context(), []byte("\x89PNG\r\n\x1a\ntruncated"), false)
				if !strings.HasPrefix(res.Error, datamodel.ErrDecode.Error()) {
					t.Errorf("Analyze() Error = %q, want decode error", res.Error)
				}
				if res.LSBAnalysis != nil {
					t.Errorf("Analyze() LSBAnalysis = %+v, want nil", res.LSBAnalysis)
				}
				if res.ExifMetadata == nil {
					t.Errorf("Analyze() ExifMetadata = nil, want empty report")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}
