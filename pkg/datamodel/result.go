package datamodel

import (
	"encoding/json"
	"fmt"
)

type DetectedType string

const (
	TypeImage DetectedType = "Image"
	TypeAudio DetectedType = "Audio"
	TypeVideo DetectedType = "Video"
	TypeText  DetectedType = "Text"
)

// Category is the coarse family of a signature match.
type Category string

const (
	CategoryImage      Category = "Image"
	CategoryAudio      Category = "Audio"
	CategoryVideo      Category = "Video"
	CategoryText       Category = "Text"
	CategoryArchive    Category = "Archive"
	CategoryExecutable Category = "Executable"
	CategoryOther      Category = "Other"
)

type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidence tiers, none being the lowest.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	default:
		return 0
	}
}

type FileInfo struct {
	Path         string       `json:"path"`
	SizeBytes    int64        `json:"size_bytes"`
	DetectedType DetectedType `json:"detected_type"`
	Extension    *string      `json:"extension"`
}

// SignatureMatch is one hit of the magic-byte scanner.
type SignatureMatch struct {
	Offset      int        `json:"offset"`
	Format      string     `json:"-"`
	Description string     `json:"description"`
	Category    Category   `json:"file_type"`
	Confidence  Confidence `json:"confidence"`
}

func (m SignatureMatch) MarshalJSON() ([]byte, error) {
	return json.Marshal(EmbeddedFile{
		Offset:      m.Offset,
		OffsetHex:   fmt.Sprintf("0x%X", m.Offset),
		Description: m.Description,
		FileType:    m.Category,
		Confidence:  m.Confidence,
	})
}

func (m *SignatureMatch) UnmarshalJSON(data []byte) (err error) {
	var e EmbeddedFile
	if err = json.Unmarshal(data, &e); err != nil {
		return
	}
	*m = SignatureMatch{
		Offset:      e.Offset,
		Description: e.Description,
		Category:    e.FileType,
		Confidence:  e.Confidence,
	}
	return
}

// EmbeddedFile is the wire form of a SignatureMatch.
type EmbeddedFile struct {
	Offset      int        `json:"offset"`
	OffsetHex   string     `json:"offset_hex"`
	Description string     `json:"description"`
	FileType    Category   `json:"file_type"`
	Confidence  Confidence `json:"confidence"`
}

type FormatSummary struct {
	Images        int `json:"images"`
	Audio         int `json:"audio"`
	Video         int `json:"video"`
	TextDocuments int `json:"text_documents"`
	Archives      int `json:"archives"`
	Executables   int `json:"executables"`
	Other         int `json:"other"`
}

// Add counts one match of the given category.
func (s *FormatSummary) Add(c Category) {
	switch c {
	case CategoryImage:
		s.Images++
	case CategoryAudio:
		s.Audio++
	case CategoryVideo:
		s.Video++
	case CategoryText:
		s.TextDocuments++
	case CategoryArchive:
		s.Archives++
	case CategoryExecutable:
		s.Executables++
	default:
		s.Other++
	}
}

type MagicBytesAnalysis struct {
	PrimaryFormat        string           `json:"primary_format"`
	ExpectedFormat       *string          `json:"expected_format,omitempty"`
	HasMultipleFormats   bool             `json:"has_multiple_formats"`
	HasSuspiciousData    bool             `json:"has_suspicious_data"`
	TotalSignaturesFound int              `json:"total_signatures_found"`
	FormatSummary        FormatSummary    `json:"format_summary"`
	EmbeddedFiles        []SignatureMatch `json:"embedded_files"`
	SuspiciousFindings   []string         `json:"suspicious_findings"`
}

type Summary struct {
	SteganographyDetected bool       `json:"steganography_detected"`
	ConfidenceLevel       Confidence `json:"confidence_level"`
	ThreatIndicators      []string   `json:"threat_indicators"`
	Recommendations       []string   `json:"recommendations"`
}

// Result is the document produced by one scan. It is never mutated once returned.
type Result struct {
	FileInfo               FileInfo               `json:"file_info"`
	MagicBytesAnalysis     MagicBytesAnalysis     `json:"magic_bytes_analysis"`
	FormatSpecificAnalysis FormatSpecificAnalysis `json:"format_specific_analysis"`
	Summary                Summary                `json:"summary"`
	Timestamp              string                 `json:"timestamp"`
}

func (r *Result) UnmarshalJSON(data []byte) (err error) {
	type plain Result
	aux := struct {
		*plain
		FormatSpecificAnalysis json.RawMessage `json:"format_specific_analysis"`
	}{plain: (*plain)(r)}
	if err = json.Unmarshal(data, &aux); err != nil {
		return
	}
	r.FormatSpecificAnalysis, err = UnmarshalFormatSpecificAnalysis(aux.FormatSpecificAnalysis)
	return
}
