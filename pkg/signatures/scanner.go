package signatures

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/glimps-re/stegascan/pkg/datamodel"
)

const (
	DefaultMinSignatureLength = 4
	DefaultDedupWindow        = 16

	sectorSize = 512

	UnknownFormat = "UNKNOWN"
)

type Config struct {
	// MinSignatureLength caps shorter patterns at low confidence.
	MinSignatureLength int `yaml:"min_signature_length" mapstructure:"min_signature_length"`
	// DedupWindow merges hits of one format closer than this many bytes.
	DedupWindow int `yaml:"dedup_window" mapstructure:"dedup_window"`
}

// Scanner runs every signature of its table over a whole buffer.
type Scanner struct {
	signatures []Signature
	config     Config
}

func NewScanner(signatures []Signature, config Config) *Scanner {
	if signatures == nil {
		signatures = Table
	}
	if config.MinSignatureLength <= 0 {
		config.MinSignatureLength = DefaultMinSignatureLength
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = DefaultDedupWindow
	}
	return &Scanner{signatures: signatures, config: config}
}

type hit struct {
	offset int
	sig    int
}

// matchAt reports whether s starts at offset in data.
func (s Signature) matchAt(data []byte, offset int) bool {
	p := offset + s.PatternOffset
	if p+len(s.Pattern) > len(data) || !bytes.Equal(data[p:p+len(s.Pattern)], s.Pattern) {
		return false
	}
	if s.Sub != nil {
		q := offset + s.Sub.Offset
		if q+len(s.Sub.Value) > len(data) || !bytes.Equal(data[q:q+len(s.Sub.Value)], s.Sub.Value) {
			return false
		}
	}
	return true
}

func (sc *Scanner) hits(data []byte) (hits []hit) {
	for i, sig := range sc.signatures {
		if len(sig.Pattern) == 0 {
			continue
		}
		if sig.HeaderOnly {
			if sig.matchAt(data, 0) {
				hits = append(hits, hit{offset: 0, sig: i})
			}
			continue
		}
		for from := 0; from < len(data); {
			idx := bytes.Index(data[from:], sig.Pattern)
			if idx < 0 {
				break
			}
			start := from + idx - sig.PatternOffset
			from += idx + 1
			if start < 0 || !sig.matchAt(data, start) {
				continue
			}
			hits = append(hits, hit{offset: start, sig: i})
		}
	}
	return
}

// dedup keeps the most specific signature per offset, then drops repeats of
// a format within the dedup window.
func (sc *Scanner) dedup(hits []hit) (kept []hit) {
	best := make(map[int]hit)
	for _, h := range hits {
		cur, ok := best[h.offset]
		if !ok || sc.signatures[h.sig].specificity() > sc.signatures[cur.sig].specificity() ||
			(sc.signatures[h.sig].specificity() == sc.signatures[cur.sig].specificity() && h.sig < cur.sig) {
			best[h.offset] = h
		}
	}
	collapsed := make([]hit, 0, len(best))
	for _, h := range best {
		collapsed = append(collapsed, h)
	}
	sort.Slice(collapsed, func(i, j int) bool { return collapsed[i].offset < collapsed[j].offset })

	last := make(map[string]int)
	for _, h := range collapsed {
		format := sc.signatures[h.sig].Format
		if prev, ok := last[format]; ok && h.offset-prev < sc.config.DedupWindow {
			continue
		}
		last[format] = h.offset
		kept = append(kept, h)
	}
	return
}

func (sc *Scanner) confidence(data []byte, h hit) datamodel.Confidence {
	sig := sc.signatures[h.sig]
	if len(sig.Pattern) < sc.config.MinSignatureLength {
		return datamodel.ConfidenceLow
	}
	body := h.offset + sig.PatternOffset + len(sig.Pattern)
	if len(sig.End) > 0 && bytes.Contains(data[body:], sig.End) {
		return datamodel.ConfidenceHigh
	}
	if sig.Size != nil {
		p := h.offset + sig.Size.Offset
		if p+4 <= len(data) {
			declared := int(binary.LittleEndian.Uint32(data[p:p+4])) + sig.Size.Adjust
			if declared >= body-h.offset && declared <= len(data)-h.offset {
				return datamodel.ConfidenceHigh
			}
		}
	}
	if !paddedOrAligned(data, h.offset) {
		return datamodel.ConfidenceLow
	}
	return datamodel.ConfidenceMedium
}

var (
	nullPadding = []byte{0x00, 0x00, 0x00, 0x00}
	ffPadding   = []byte{0xFF, 0xFF, 0xFF, 0xFF}
)

// paddedOrAligned reports whether a file starting at offset sits on a sector
// boundary or right after 0x00 or 0xFF padding. Chance hits inside compressed
// streams rarely do.
func paddedOrAligned(data []byte, offset int) bool {
	if offset%sectorSize == 0 {
		return true
	}
	if offset < len(nullPadding) {
		return false
	}
	before := data[offset-len(nullPadding) : offset]
	return bytes.Equal(before, nullPadding) || bytes.Equal(before, ffPadding)
}

// Matches returns the deduplicated signature hits of data in offset order.
// Hits past offset 0 too close to the end of data are dropped as trailing garbage.
func (sc *Scanner) Matches(data []byte) (matches []datamodel.SignatureMatch) {
	matches = []datamodel.SignatureMatch{}
	for _, h := range sc.dedup(sc.hits(data)) {
		sig := sc.signatures[h.sig]
		if h.offset > 0 && len(data)-h.offset < sig.minSize() {
			continue
		}
		matches = append(matches, datamodel.SignatureMatch{
			Offset:      h.offset,
			Format:      sig.Format,
			Description: sig.Description,
			Category:    sig.Category,
			Confidence:  sc.confidence(data, h),
		})
	}
	return
}

// Primary returns the most specific signature matching at offset 0.
func (sc *Scanner) Primary(data []byte) (sig Signature, ok bool) {
	for _, s := range sc.signatures {
		if len(s.Pattern) == 0 || !s.matchAt(data, 0) {
			continue
		}
		if !ok || s.specificity() > sig.specificity() {
			sig, ok = s, true
		}
	}
	return
}

// Scan builds the magic-byte analysis of data. extension is the lower-case
// file extension without dot, "" when unknown.
func (sc *Scanner) Scan(data []byte, extension string) (a datamodel.MagicBytesAnalysis) {
	matches := sc.Matches(data)
	a = datamodel.MagicBytesAnalysis{
		PrimaryFormat:        UnknownFormat,
		TotalSignaturesFound: len(matches),
		EmbeddedFiles:        []datamodel.SignatureMatch{},
		SuspiciousFindings:   []string{},
	}
	if extension != "" {
		expected := strings.ToUpper(extension)
		a.ExpectedFormat = &expected
	}

	primary, hasPrimary := sc.Primary(data)
	if hasPrimary {
		a.PrimaryFormat = primary.Description
	} else {
		longest := -1
		for _, m := range matches {
			if l := sc.specificityOf(m); l > longest {
				longest = l
				a.PrimaryFormat = m.Description
			}
		}
	}

	formats := make(map[string]struct{})
	if hasPrimary {
		formats[primary.Format] = struct{}{}
	}
	var complete []string
	for _, m := range matches {
		a.FormatSummary.Add(m.Category)
		if m.Offset == 0 {
			continue
		}
		a.EmbeddedFiles = append(a.EmbeddedFiles, m)
		if m.Confidence.Rank() >= datamodel.ConfidenceMedium.Rank() {
			formats[m.Format] = struct{}{}
			a.HasSuspiciousData = true
			complete = append(complete, fmt.Sprintf("Complete file signature found at offset 0x%X: %s", m.Offset, m.Description))
		}
	}
	a.HasMultipleFormats = len(formats) > 1

	if a.HasMultipleFormats {
		a.SuspiciousFindings = append(a.SuspiciousFindings, fmt.Sprintf("Multiple file signatures detected (%d total)", len(matches)))
	}
	a.SuspiciousFindings = append(a.SuspiciousFindings, complete...)
	if hasPrimary && extension != "" && !primary.HasExtension(extension) {
		a.SuspiciousFindings = append(a.SuspiciousFindings, fmt.Sprintf("Format mismatch: extension says %s, detected format is %s", *a.ExpectedFormat, primary.Description))
	}
	s := a.FormatSummary
	if s.Audio > 0 && s.Images > 0 && (s.Video > 0 || s.TextDocuments > 0) {
		a.SuspiciousFindings = append(a.SuspiciousFindings, "POLYGLOT FILE DETECTED: Contains multiple media types (possible steganography)")
	}
	return
}

func (sc *Scanner) specificityOf(m datamodel.SignatureMatch) (n int) {
	for _, s := range sc.signatures {
		if s.Format == m.Format && s.Description == m.Description && s.specificity() > n {
			n = s.specificity()
		}
	}
	return
}
