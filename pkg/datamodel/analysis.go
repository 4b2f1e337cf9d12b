package datamodel

import (
	"encoding/json"
	"fmt"
)

// FormatSpecificAnalysis is implemented only by ImageAnalysis, AudioAnalysis,
// VideoAnalysis and TextAnalysis.
type FormatSpecificAnalysis interface {
	Type() DetectedType
	// LayerError reports why the format layer could not produce evidence, "" when it did.
	LayerError() string
	sealed()
}

type ImageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type MetadataField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ExifReport struct {
	FieldsFound        int             `json:"fields_found"`
	HasThumbnail       bool            `json:"has_thumbnail"`
	ThumbnailSizeBytes *int            `json:"thumbnail_size_bytes"`
	CommentFields      []string        `json:"comment_fields"`
	SuspiciousFields   []string        `json:"suspicious_fields"`
	Metadata           []MetadataField `json:"metadata"`
}

type LSBChannel struct {
	ChannelName    string  `json:"channel_name"`
	ChiSquareScore float64 `json:"chi_square_score"`
	EntropyScore   float64 `json:"entropy_score"`
	Suspicious     bool    `json:"suspicious"`
}

type LSBReport struct {
	IsSuspicious bool         `json:"is_suspicious"`
	Channels     []LSBChannel `json:"channels"`
}

type ImageAnalysis struct {
	ExifMetadata *ExifReport     `json:"exif_metadata"`
	LSBAnalysis  *LSBReport      `json:"lsb_analysis"`
	Dimensions   ImageDimensions `json:"dimensions"`
	Error        string          `json:"error,omitempty"`
}

type ID3Report struct {
	Title              *string  `json:"title"`
	Artist             *string  `json:"artist"`
	Album              *string  `json:"album"`
	Year               *int     `json:"year"`
	CommentsCount      int      `json:"comments_count"`
	PicturesCount      int      `json:"pictures_count"`
	PrivateFramesCount int      `json:"private_frames_count"`
	SuspiciousFrames   []string `json:"suspicious_frames"`
}

type SpectrogramReport struct {
	HighFrequencyEnergy   float64  `json:"high_frequency_energy"`
	HiddenMessageDetected bool     `json:"hidden_message_detected"`
	SuspiciousPatterns    []string `json:"suspicious_patterns"`
	WindowCount           int      `json:"window_count"`
	SampleRate            int      `json:"sample_rate"`
}

type AudioAnalysis struct {
	SampleCount         int                `json:"sample_count"`
	ID3Analysis         *ID3Report         `json:"id3_analysis"`
	SpectrogramAnalysis *SpectrogramReport `json:"spectrogram_analysis"`
	Error               string             `json:"error,omitempty"`
}

type VideoAnalysis struct {
	FramesProcessed   int   `json:"frames_processed"`
	ErrorsEncountered int   `json:"errors_encountered"`
	SuspiciousFrames  []int `json:"suspicious_frames"`
	// HistogramAnomalyFrames lists sampled frames with an unbalanced even/odd
	// histogram pair. Informational only.
	HistogramAnomalyFrames []int  `json:"histogram_anomaly_frames,omitempty"`
	SampleRate             int    `json:"sample_rate"`
	Error                  string `json:"error,omitempty"`
}

type TextAnalysis struct {
	FileType       string `json:"file_type"`
	LineCount      int    `json:"line_count"`
	WordCount      int    `json:"word_count"`
	CharacterCount int    `json:"character_count"`
	SizeBytes      int    `json:"size_bytes"`
	Error          string `json:"error,omitempty"`
}

func (ImageAnalysis) Type() DetectedType { return TypeImage }
func (AudioAnalysis) Type() DetectedType { return TypeAudio }
func (VideoAnalysis) Type() DetectedType { return TypeVideo }
func (TextAnalysis) Type() DetectedType  { return TypeText }

func (a ImageAnalysis) LayerError() string { return a.Error }
func (a AudioAnalysis) LayerError() string { return a.Error }
func (a VideoAnalysis) LayerError() string { return a.Error }
func (a TextAnalysis) LayerError() string  { return a.Error }

func (ImageAnalysis) sealed() {}
func (AudioAnalysis) sealed() {}
func (VideoAnalysis) sealed() {}
func (TextAnalysis) sealed()  {}

func (a ImageAnalysis) MarshalJSON() ([]byte, error) {
	type alias ImageAnalysis
	return json.Marshal(struct {
		Type DetectedType `json:"type"`
		alias
	}{a.Type(), alias(a)})
}

func (a AudioAnalysis) MarshalJSON() ([]byte, error) {
	type alias AudioAnalysis
	return json.Marshal(struct {
		Type DetectedType `json:"type"`
		alias
	}{a.Type(), alias(a)})
}

func (a VideoAnalysis) MarshalJSON() ([]byte, error) {
	type alias VideoAnalysis
	if a.SuspiciousFrames == nil {
		a.SuspiciousFrames = []int{}
	}
	return json.Marshal(struct {
		Type DetectedType `json:"type"`
		alias
	}{a.Type(), alias(a)})
}

func (a TextAnalysis) MarshalJSON() ([]byte, error) {
	type alias TextAnalysis
	return json.Marshal(struct {
		Type DetectedType `json:"type"`
		alias
	}{a.Type(), alias(a)})
}

// UnmarshalFormatSpecificAnalysis decodes a variant using its "type" discriminator.
func UnmarshalFormatSpecificAnalysis(data []byte) (fsa FormatSpecificAnalysis, err error) {
	if len(data) == 0 || string(data) == "null" {
		return
	}
	var head struct {
		Type DetectedType `json:"type"`
	}
	if err = json.Unmarshal(data, &head); err != nil {
		return
	}
	switch head.Type {
	case TypeImage:
		type alias ImageAnalysis
		var v alias
		err = json.Unmarshal(data, &v)
		fsa = ImageAnalysis(v)
	case TypeAudio:
		type alias AudioAnalysis
		var v alias
		err = json.Unmarshal(data, &v)
		fsa = AudioAnalysis(v)
	case TypeVideo:
		type alias VideoAnalysis
		var v alias
		err = json.Unmarshal(data, &v)
		fsa = VideoAnalysis(v)
	case TypeText:
		type alias TextAnalysis
		var v alias
		err = json.Unmarshal(data, &v)
		fsa = TextAnalysis(v)
	default:
		err = fmt.Errorf("unknown format_specific_analysis type %q", head.Type)
	}
	return
}
