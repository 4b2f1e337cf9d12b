package text

import (
	"archive/zip"
	"bytes"
	"compress/zlib"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// maxPartSize bounds the decompressed size of one document part.
const maxPartSize = 64 << 20

var errPartNotFound = errors.New("document part not found")

func readZipPart(data []byte, name string) (part []byte, err error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return
	}
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errPartNotFound, name)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return io.ReadAll(io.LimitReader(f, maxPartSize))
}

// xmlText concatenates the character data of the elements named textElement,
// ending a line after each paragraphElement.
func xmlText(data []byte, textElement, paragraphElement string) (string, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	sb := &strings.Builder{}
	depth := 0
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if textElement == "" || t.Name.Local == textElement {
				depth++
			}
		case xml.EndElement:
			if textElement == "" || t.Name.Local == textElement {
				depth--
			}
			if t.Name.Local == paragraphElement {
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if depth > 0 {
				sb.Write(t)
			}
		}
	}
}

// docxText extracts the runs of word/document.xml.
func docxText(data []byte) (string, error) {
	part, err := readZipPart(data, "word/document.xml")
	if err != nil {
		return "", err
	}
	return xmlText(part, "t", "p")
}

// odtText extracts the paragraphs of content.xml.
func odtText(data []byte) (string, error) {
	part, err := readZipPart(data, "content.xml")
	if err != nil {
		return "", err
	}
	return xmlText(part, "", "p")
}

var (
	pdfStream    = []byte("stream")
	pdfEndStream = []byte("endstream")
)

// pdfText collects the literal strings of the content streams of a PDF,
// inflating the compressed ones.
func pdfText(data []byte) string {
	sb := &strings.Builder{}
	rest := data
	for {
		i := bytes.Index(rest, pdfStream)
		if i < 0 {
			break
		}
		body := rest[i+len(pdfStream):]
		body = bytes.TrimPrefix(body, []byte("\r"))
		body = bytes.TrimPrefix(body, []byte("\n"))
		j := bytes.Index(body, pdfEndStream)
		if j < 0 {
			break
		}
		content := body[:j]
		if zr, err := zlib.NewReader(bytes.NewReader(content)); err == nil {
			if inflated, err := io.ReadAll(io.LimitReader(zr, maxPartSize)); err == nil || len(inflated) > 0 {
				content = inflated
			}
			_ = zr.Close()
		}
		literalStrings(content, sb)
		rest = body[j+len(pdfEndStream):]
	}
	return sb.String()
}

// literalStrings appends every balanced (...) string of content, one per line
// per text object.
func literalStrings(content []byte, sb *strings.Builder) {
	depth := 0
	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case c == '\\' && depth > 0 && i+1 < len(content):
			i++
			switch content[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(content[i])
			}
		case c == '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case c == ')' && depth > 0:
			depth--
			if depth > 0 {
				sb.WriteByte(c)
			}
		case depth > 0:
			sb.WriteByte(c)
		case c == 'E' && i+1 < len(content) && content[i+1] == 'T':
			sb.WriteByte('\n')
		}
	}
}

// decodeText returns data as UTF-8 when it is UTF-8 or BOM marked UTF-16.
func decodeText(data []byte) (string, bool) {
	if bytes.HasPrefix(data, []byte{0xFE, 0xFF}) || bytes.HasPrefix(data, []byte{0xFF, 0xFE}) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err == nil && utf8.Valid(out) {
			return string(out), true
		}
		return "", false
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

func printable(c byte) bool {
	return (c >= 0x20 && c < 0x7F) || c == '\t'
}

// printableStrings extracts the runs of at least minRun printable ASCII bytes, one per line.
func printableStrings(data []byte, minRun int) string {
	sb := &strings.Builder{}
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= minRun {
			sb.Write(data[start:end])
			sb.WriteByte('\n')
		}
		start = -1
	}
	for i, c := range data {
		if printable(c) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(data))
	return sb.String()
}
