package signatures

import (
	"slices"

	"github.com/glimps-re/stegascan/pkg/datamodel"
)

// Marker is a fixed byte sequence expected at Offset from the match start.
type Marker struct {
	Offset int
	Value  []byte
}

// SizeField locates a little-endian uint32 holding the declared length of the
// file, counted from the match start once Adjust is added.
type SizeField struct {
	Offset int
	Adjust int
}

// Signature describes one known file format.
type Signature struct {
	Format      string
	Description string
	Category    datamodel.Category
	// Pattern is searched at PatternOffset bytes after the start of the file.
	Pattern       []byte
	PatternOffset int
	Sub           *Marker
	End           []byte
	Size          *SizeField
	// MinSize is the smallest plausible file; shorter tails are trailing garbage.
	MinSize int
	// HeaderOnly signatures are too common to be searched past offset 0.
	HeaderOnly bool
	Extensions []string
}

func (s Signature) specificity() int {
	n := len(s.Pattern)
	if s.Sub != nil {
		n += len(s.Sub.Value)
	}
	return n
}

func (s Signature) minSize() int {
	if s.MinSize > 0 {
		return s.MinSize
	}
	return s.PatternOffset + len(s.Pattern) + 8
}

// HasExtension reports whether ext (lower case, no dot) is usual for the format.
func (s Signature) HasExtension(ext string) bool {
	return slices.Contains(s.Extensions, ext)
}

func riff(sub string) (*Marker, *SizeField) {
	return &Marker{Offset: 8, Value: []byte(sub)}, &SizeField{Offset: 4, Adjust: 8}
}

var (
	riffWAVE, riffWAVESize = riff("WAVE")
	riffAVI, riffAVISize   = riff("AVI ")
	riffWEBP, riffWEBPSize = riff("WEBP")

	jpegEnd = []byte{0xFF, 0xD9}
	jpegExt = []string{"jpg", "jpeg", "jpe", "jfif"}
	mp4Ext  = []string{"mp4", "m4v"}
	zipExt  = []string{"zip", "docx", "xlsx", "pptx", "odt", "jar", "apk"}
)

// Table is the default signature set.
var Table = []Signature{
	// images
	{Format: "jpeg", Description: "JPEG image (JFIF)", Category: datamodel.CategoryImage, Pattern: []byte{0xFF, 0xD8, 0xFF, 0xE0}, End: jpegEnd, Extensions: jpegExt},
	{Format: "jpeg", Description: "JPEG image (Exif)", Category: datamodel.CategoryImage, Pattern: []byte{0xFF, 0xD8, 0xFF, 0xE1}, End: jpegEnd, Extensions: jpegExt},
	{Format: "jpeg", Description: "JPEG image (ICC profile)", Category: datamodel.CategoryImage, Pattern: []byte{0xFF, 0xD8, 0xFF, 0xE2}, End: jpegEnd, Extensions: jpegExt},
	{Format: "jpeg", Description: "JPEG image (Adobe)", Category: datamodel.CategoryImage, Pattern: []byte{0xFF, 0xD8, 0xFF, 0xEE}, End: jpegEnd, Extensions: jpegExt},
	{Format: "jpeg", Description: "JPEG image", Category: datamodel.CategoryImage, Pattern: []byte{0xFF, 0xD8, 0xFF, 0xDB}, End: jpegEnd, Extensions: jpegExt},
	{Format: "png", Description: "PNG image", Category: datamodel.CategoryImage, Pattern: []byte("\x89PNG\r\n\x1a\n"), End: []byte("IEND\xAE\x42\x60\x82"), MinSize: 33, Extensions: []string{"png"}},
	{Format: "gif", Description: "GIF image (87a)", Category: datamodel.CategoryImage, Pattern: []byte("GIF87a"), End: []byte{0x00, 0x3B}, Extensions: []string{"gif"}},
	{Format: "gif", Description: "GIF image (89a)", Category: datamodel.CategoryImage, Pattern: []byte("GIF89a"), End: []byte{0x00, 0x3B}, Extensions: []string{"gif"}},
	{Format: "webp", Description: "WEBP image", Category: datamodel.CategoryImage, Pattern: []byte("RIFF"), Sub: riffWEBP, Size: riffWEBPSize, Extensions: []string{"webp"}},
	{Format: "tiff", Description: "TIFF image (little-endian)", Category: datamodel.CategoryImage, Pattern: []byte{'I', 'I', 0x2A, 0x00}, Extensions: []string{"tif", "tiff"}},
	{Format: "tiff", Description: "TIFF image (big-endian)", Category: datamodel.CategoryImage, Pattern: []byte{'M', 'M', 0x00, 0x2A}, Extensions: []string{"tif", "tiff"}},
	{Format: "bmp", Description: "BMP image", Category: datamodel.CategoryImage, Pattern: []byte("BM"), Size: &SizeField{Offset: 2}, HeaderOnly: true, Extensions: []string{"bmp", "dib"}},
	{Format: "heif", Description: "HEIF image", Category: datamodel.CategoryImage, Pattern: []byte("ftypheic"), PatternOffset: 4, Extensions: []string{"heic", "heif"}},
	{Format: "heif", Description: "HEIF image", Category: datamodel.CategoryImage, Pattern: []byte("ftypmif1"), PatternOffset: 4, Extensions: []string{"heic", "heif"}},

	// audio
	{Format: "wav", Description: "WAV audio", Category: datamodel.CategoryAudio, Pattern: []byte("RIFF"), Sub: riffWAVE, Size: riffWAVESize, Extensions: []string{"wav", "wave"}},
	{Format: "mp3", Description: "MP3 audio (with ID3)", Category: datamodel.CategoryAudio, Pattern: []byte("ID3"), Extensions: []string{"mp3"}},
	{Format: "mp3", Description: "MP3 audio", Category: datamodel.CategoryAudio, Pattern: []byte{0xFF, 0xFB}, HeaderOnly: true, Extensions: []string{"mp3"}},
	{Format: "mp3", Description: "MP3 audio", Category: datamodel.CategoryAudio, Pattern: []byte{0xFF, 0xF3}, HeaderOnly: true, Extensions: []string{"mp3"}},
	{Format: "mp3", Description: "MP3 audio", Category: datamodel.CategoryAudio, Pattern: []byte{0xFF, 0xF2}, HeaderOnly: true, Extensions: []string{"mp3"}},
	{Format: "flac", Description: "FLAC audio", Category: datamodel.CategoryAudio, Pattern: []byte("fLaC"), Extensions: []string{"flac"}},
	{Format: "ogg", Description: "OGG audio", Category: datamodel.CategoryAudio, Pattern: []byte("OggS"), Extensions: []string{"ogg", "oga", "opus"}},
	{Format: "m4a", Description: "MPEG-4 audio", Category: datamodel.CategoryAudio, Pattern: []byte("ftypM4A "), PatternOffset: 4, Extensions: []string{"m4a"}},

	// video
	{Format: "avi", Description: "AVI video", Category: datamodel.CategoryVideo, Pattern: []byte("RIFF"), Sub: riffAVI, Size: riffAVISize, Extensions: []string{"avi"}},
	{Format: "mkv", Description: "Matroska/WebM video", Category: datamodel.CategoryVideo, Pattern: []byte{0x1A, 0x45, 0xDF, 0xA3}, Extensions: []string{"mkv", "webm"}},
	{Format: "mp4", Description: "MP4 video", Category: datamodel.CategoryVideo, Pattern: []byte("ftyp"), PatternOffset: 4, Extensions: mp4Ext},
	{Format: "mp4", Description: "MP4 video (ISO base media)", Category: datamodel.CategoryVideo, Pattern: []byte("ftypisom"), PatternOffset: 4, Extensions: mp4Ext},
	{Format: "mp4", Description: "MP4 video (v2)", Category: datamodel.CategoryVideo, Pattern: []byte("ftypmp42"), PatternOffset: 4, Extensions: mp4Ext},
	{Format: "mov", Description: "QuickTime video", Category: datamodel.CategoryVideo, Pattern: []byte("ftypqt  "), PatternOffset: 4, Extensions: []string{"mov", "qt"}},
	{Format: "flv", Description: "Flash video", Category: datamodel.CategoryVideo, Pattern: []byte{'F', 'L', 'V', 0x01}, Extensions: []string{"flv"}},

	// documents
	{Format: "pdf", Description: "PDF document", Category: datamodel.CategoryText, Pattern: []byte("%PDF-"), End: []byte("%%EOF"), Extensions: []string{"pdf"}},
	{Format: "rtf", Description: "RTF document", Category: datamodel.CategoryText, Pattern: []byte(`{\rtf`), Extensions: []string{"rtf"}},

	// archives
	{Format: "zip", Description: "ZIP archive", Category: datamodel.CategoryArchive, Pattern: []byte{'P', 'K', 0x03, 0x04}, End: []byte{'P', 'K', 0x05, 0x06}, MinSize: 30, Extensions: zipExt},
	{Format: "rar", Description: "RAR archive", Category: datamodel.CategoryArchive, Pattern: []byte{'R', 'a', 'r', '!', 0x1A, 0x07}, Extensions: []string{"rar"}},
	{Format: "7z", Description: "7-Zip archive", Category: datamodel.CategoryArchive, Pattern: []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}, Extensions: []string{"7z"}},
	{Format: "gzip", Description: "gzip compressed data", Category: datamodel.CategoryArchive, Pattern: []byte{0x1F, 0x8B, 0x08}, Extensions: []string{"gz", "tgz"}},

	// executables
	{Format: "elf", Description: "ELF executable", Category: datamodel.CategoryExecutable, Pattern: []byte{0x7F, 'E', 'L', 'F'}, Extensions: []string{"elf", "so", "o"}},
	{Format: "pe", Description: "Windows PE executable", Category: datamodel.CategoryExecutable, Pattern: []byte("MZ"), HeaderOnly: true, Extensions: []string{"exe", "dll", "sys"}},
	{Format: "macho", Description: "Mach-O executable", Category: datamodel.CategoryExecutable, Pattern: []byte{0xCF, 0xFA, 0xED, 0xFE}, Extensions: []string{"dylib"}},
	{Format: "macho", Description: "Mach-O executable", Category: datamodel.CategoryExecutable, Pattern: []byte{0xFE, 0xED, 0xFA, 0xCF}, Extensions: []string{"dylib"}},
}

// extensionTypes covers extensions without a signature of their own.
var extensionTypes = map[string]datamodel.DetectedType{
	"txt":  datamodel.TypeText,
	"md":   datamodel.TypeText,
	"csv":  datamodel.TypeText,
	"json": datamodel.TypeText,
	"xml":  datamodel.TypeText,
	"html": datamodel.TypeText,
	"htm":  datamodel.TypeText,
	"log":  datamodel.TypeText,
	"aac":  datamodel.TypeAudio,
	"wma":  datamodel.TypeAudio,
	"aiff": datamodel.TypeAudio,
	"wmv":  datamodel.TypeVideo,
	"mpg":  datamodel.TypeVideo,
	"mpeg": datamodel.TypeVideo,
	"3gp":  datamodel.TypeVideo,
	"ico":  datamodel.TypeImage,
	"svg":  datamodel.TypeText,
}
