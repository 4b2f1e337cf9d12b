package text

import (
	"archive/zip"
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/google/go-cmp/cmp"
)

func docx(t *testing.T, documentXML string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip Create() error = %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("zip Write() error = %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close() error = %v", err)
	}
	return buf.Bytes()
}

func pdf(t *testing.T, content string) []byte {
	t.Helper()
	compressed := &bytes.Buffer{}
	zw := zlib.NewWriter(compressed)
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatalf("zlib Write() error = %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib Close() error = %v", err)
	}
	out := &bytes.Buffer{}
	out.WriteString("%PDF-1.4\n1 0 obj\n<< /Filter /FlateDecode >>\nstream\n")
	out.Write(compressed.Bytes())
	out.WriteString("\nendstream\nendobj\n%%EOF\n")
	return out.Bytes()
}

func TestAnalyzer_Analyze(t *testing.T) {
	a := NewAnalyzer(Config{})
	tests := []struct {
		name      string
		data      func(t *testing.T) []byte
		format    string
		extension string
		want      datamodel.TextAnalysis
	}{
		{
			name: "empty",
			data: func(t *testing.T) []byte { return nil },
			want: datamodel.TextAnalysis{FileType: "TXT"},
		},
		{
			name:      "plain text",
			data:      func(t *testing.T) []byte { return []byte("hello world\nsecond line here\n") },
			extension: "md",
			want:      datamodel.TextAnalysis{FileType: "MD", LineCount: 2, WordCount: 5, CharacterCount: 29, SizeBytes: 29},
		},
		{
			name: "utf-16 with bom",
			data: func(t *testing.T) []byte { return []byte{0xFF, 0xFE, 'h', 0, 'i', 0, ' ', 0, 0xE9, 0} },
			want: datamodel.TextAnalysis{FileType: "TXT", LineCount: 1, WordCount: 2, CharacterCount: 4, SizeBytes: 5},
		},
		{
			name: "binary",
			data: func(t *testing.T) []byte {
				return []byte("\x00\x01\x02secret\xff\xfeab\x00payload data\x00")
			},
			want: datamodel.TextAnalysis{FileType: "TXT (binary extract)", LineCount: 2, WordCount: 3, CharacterCount: 20, SizeBytes: 20},
		},
		{
			name:   "docx",
			data:   func(t *testing.T) []byte { return docx(t, `<w:document xmlns:w="x"><w:body><w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t> there</w:t></w:r></w:p><w:p><w:r><w:t>Bye</w:t></w:r></w:p></w:body></w:document>`) },
			format: "zip",
			want:   datamodel.TextAnalysis{FileType: "DOCX", LineCount: 2, WordCount: 3, CharacterCount: 16, SizeBytes: 16},
		},
		{
			name:   "pdf",
			data:   func(t *testing.T) []byte { return pdf(t, "BT /F1 12 Tf (Hidden \\(not\\) here) Tj ET") },
			format: "pdf",
			want:   datamodel.TextAnalysis{FileType: "PDF", LineCount: 1, WordCount: 3, CharacterCount: 18, SizeBytes: 18},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Analyze(t.Context(), tt.data(t), tt.format, tt.extension)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Analyze() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCounts(t *testing.T) {
	tests := []struct {
		content   string
		wantLines int
	}{
		{"", 0},
		{"one", 1},
		{"one\n", 1},
		{"one\ntwo", 2},
		{"\n\n", 2},
	}
	for _, tt := range tests {
		if got := Counts(tt.content); got.LineCount != tt.wantLines {
			t.Errorf("Counts(%q).LineCount = %d, want %d", tt.content, got.LineCount, tt.wantLines)
		}
	}
}
