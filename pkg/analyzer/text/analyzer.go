package text

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/glimps-re/stegascan/pkg/datamodel"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

const (
	DefaultMinStringLength = 4

	binarySuffix = " (binary extract)"
)

type Config struct {
	// MinStringLength is the shortest printable run kept from binary content.
	MinStringLength int `yaml:"min_string_length" mapstructure:"min_string_length"`
}

type Analyzer struct {
	config Config
}

func NewAnalyzer(config Config) *Analyzer {
	if config.MinStringLength <= 0 {
		config.MinStringLength = DefaultMinStringLength
	}
	return &Analyzer{config: config}
}

// Counts fills the structural statistics of content.
func Counts(content string) (res datamodel.TextAnalysis) {
	res.SizeBytes = len(content)
	res.CharacterCount = utf8.RuneCountInString(content)
	res.WordCount = len(strings.Fields(content))
	if content != "" {
		res.LineCount = strings.Count(content, "\n")
		if !strings.HasSuffix(content, "\n") {
			res.LineCount++
		}
	}
	return
}

// Analyze extracts the text of data and counts its lines, words and characters.
// format is the signature id of data, extension its lower case file extension.
func (a *Analyzer) Analyze(ctx context.Context, data []byte, format, extension string) (res datamodel.TextAnalysis) {
	if err := ctx.Err(); err != nil {
		res = datamodel.TextAnalysis{FileType: fileType("", extension), Error: err.Error()}
		return
	}
	content, kind := a.extract(data, format, extension)
	res = Counts(content)
	res.FileType = kind
	logger.Debug("text analyzed", slog.String("file_type", kind), slog.Int("lines", res.LineCount), slog.Int("words", res.WordCount))
	return
}

func fileType(format, extension string) string {
	switch {
	case format != "":
		return strings.ToUpper(format)
	case extension != "":
		return strings.ToUpper(extension)
	default:
		return "TXT"
	}
}

func (a *Analyzer) extract(data []byte, format, extension string) (content, kind string) {
	switch format {
	case "pdf":
		return pdfText(data), "PDF"
	case "zip":
		if s, err := docxText(data); err == nil {
			return s, "DOCX"
		}
		if s, err := odtText(data); err == nil {
			return s, "ODT"
		}
	case "":
		if s, ok := decodeText(data); ok {
			return s, fileType("", extension)
		}
	}
	return printableStrings(data, a.config.MinStringLength), fileType(format, extension) + binarySuffix
}
