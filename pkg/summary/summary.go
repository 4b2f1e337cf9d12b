package summary

import "github.com/glimps-re/stegascan/pkg/datamodel"

const (
	IndicatorSuspiciousStructure = "Suspicious data in file structure"
	IndicatorMultipleFormats     = "Multiple file formats detected"
	IndicatorLSB                 = "LSB analysis indicates hidden data"
	IndicatorExif                = "Suspicious EXIF metadata found"
	IndicatorAudioMessage        = "Hidden audio message detected"
	IndicatorAudioTags           = "Suspicious audio tag data found"
	IndicatorVideoFrames         = "Suspicious patterns in video frames"

	RecommendInvestigate     = "Further investigation recommended"
	RecommendSpecializedTool = "Consider specialized tools"
	RecommendVerifySource    = "Verify file source"
	RecommendNothingFound    = "No obvious steganography detected"
	RecommendIncomplete      = "Format analysis did not complete, only the file structure was checked"
)

type rule struct {
	indicator string
	holds     func(datamodel.MagicBytesAnalysis, datamodel.FormatSpecificAnalysis) bool
}

// rules are evaluated in order, each adding its indicator when it holds.
var rules = []rule{
	{IndicatorSuspiciousStructure, func(m datamodel.MagicBytesAnalysis, _ datamodel.FormatSpecificAnalysis) bool {
		return m.HasSuspiciousData
	}},
	{IndicatorMultipleFormats, func(m datamodel.MagicBytesAnalysis, _ datamodel.FormatSpecificAnalysis) bool {
		return m.HasMultipleFormats
	}},
	{IndicatorLSB, func(_ datamodel.MagicBytesAnalysis, f datamodel.FormatSpecificAnalysis) bool {
		img, ok := f.(datamodel.ImageAnalysis)
		return ok && img.LSBAnalysis != nil && img.LSBAnalysis.IsSuspicious
	}},
	{IndicatorExif, func(_ datamodel.MagicBytesAnalysis, f datamodel.FormatSpecificAnalysis) bool {
		img, ok := f.(datamodel.ImageAnalysis)
		return ok && img.ExifMetadata != nil && len(img.ExifMetadata.SuspiciousFields) > 0
	}},
	{IndicatorAudioMessage, func(_ datamodel.MagicBytesAnalysis, f datamodel.FormatSpecificAnalysis) bool {
		a, ok := f.(datamodel.AudioAnalysis)
		return ok && a.SpectrogramAnalysis != nil && a.SpectrogramAnalysis.HiddenMessageDetected
	}},
	{IndicatorAudioTags, func(_ datamodel.MagicBytesAnalysis, f datamodel.FormatSpecificAnalysis) bool {
		a, ok := f.(datamodel.AudioAnalysis)
		return ok && a.ID3Analysis != nil && len(a.ID3Analysis.SuspiciousFrames) > 0
	}},
	{IndicatorVideoFrames, func(_ datamodel.MagicBytesAnalysis, f datamodel.FormatSpecificAnalysis) bool {
		v, ok := f.(datamodel.VideoAnalysis)
		return ok && len(v.SuspiciousFrames) > 0
	}},
}

// ConfidenceFor bands an indicator count: 0 none, 1 low, 2-3 medium, 4+ high.
func ConfidenceFor(indicators int) datamodel.Confidence {
	switch {
	case indicators >= 4:
		return datamodel.ConfidenceHigh
	case indicators >= 2:
		return datamodel.ConfidenceMedium
	case indicators == 1:
		return datamodel.ConfidenceLow
	default:
		return datamodel.ConfidenceNone
	}
}

var recommendations = map[datamodel.Confidence][]string{
	datamodel.ConfidenceHigh:   {RecommendInvestigate, RecommendSpecializedTool, RecommendVerifySource},
	datamodel.ConfidenceMedium: {RecommendInvestigate, RecommendVerifySource},
	datamodel.ConfidenceLow:    {RecommendVerifySource},
	datamodel.ConfidenceNone:   {RecommendNothingFound},
}

// Summarize turns the findings of both layers into a verdict. A nil or failed
// format layer only contributes the indicators it still carries, and a failed
// one never reads as clean.
func Summarize(magic datamodel.MagicBytesAnalysis, format datamodel.FormatSpecificAnalysis) (s datamodel.Summary) {
	s.ThreatIndicators = []string{}
	for _, r := range rules {
		if r.holds(magic, format) {
			s.ThreatIndicators = append(s.ThreatIndicators, r.indicator)
		}
	}
	s.SteganographyDetected = len(s.ThreatIndicators) > 0
	s.ConfidenceLevel = ConfidenceFor(len(s.ThreatIndicators))
	s.Recommendations = append([]string{}, recommendations[s.ConfidenceLevel]...)
	if format != nil && format.LayerError() != "" {
		if s.ConfidenceLevel == datamodel.ConfidenceNone {
			s.Recommendations = []string{RecommendIncomplete, RecommendVerifySource}
		} else {
			s.Recommendations = append(s.Recommendations, RecommendIncomplete)
		}
	}
	return
}
