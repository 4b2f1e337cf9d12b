package signatures

import (
	"path/filepath"
	"strings"

	"github.com/glimps-re/stegascan/pkg/datamodel"
)

// Extension returns the lower-case extension of filename without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

func detectedType(c datamodel.Category) datamodel.DetectedType {
	switch c {
	case datamodel.CategoryImage:
		return datamodel.TypeImage
	case datamodel.CategoryAudio:
		return datamodel.TypeAudio
	case datamodel.CategoryVideo:
		return datamodel.TypeVideo
	default:
		return datamodel.TypeText
	}
}

// Classify picks the media type of data from its offset 0 signature, then from
// extension, defaulting to Text.
func (sc *Scanner) Classify(data []byte, extension string) datamodel.DetectedType {
	if sig, ok := sc.Primary(data); ok {
		return detectedType(sig.Category)
	}
	if extension == "" {
		return datamodel.TypeText
	}
	if t, ok := extensionTypes[extension]; ok {
		return t
	}
	for _, sig := range sc.signatures {
		if sig.HasExtension(extension) {
			return detectedType(sig.Category)
		}
	}
	return datamodel.TypeText
}
