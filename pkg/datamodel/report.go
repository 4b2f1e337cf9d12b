package datamodel

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

// Report is the batch-scan entry written for one file.
type Report struct {
	Filename              string       `json:"filename"`
	SHA256                string       `json:"sha256"`
	FileSize              int64        `json:"size"`
	DetectedType          DetectedType `json:"detected-type,omitempty"`
	SteganographyDetected bool         `json:"steganography-detected"`
	ConfidenceLevel       Confidence   `json:"confidence-level,omitempty"`
	ThreatIndicators      []string     `json:"threat-indicators,omitempty"`
	ExtractedFrom         string       `json:"extracted-from,omitempty"`
	Cached                bool         `json:"cached,omitempty"`
	Error                 string       `json:"error,omitempty"`
	Result                *Result      `json:"result,omitempty"`
}

// NewReport summarizes a scan result for the batch report.
func NewReport(filename, sha256 string, res Result, verbose bool) (r Report) {
	r = Report{
		Filename:              filename,
		SHA256:                sha256,
		FileSize:              res.FileInfo.SizeBytes,
		DetectedType:          res.FileInfo.DetectedType,
		SteganographyDetected: res.Summary.SteganographyDetected,
		ConfidenceLevel:       res.Summary.ConfidenceLevel,
		ThreatIndicators:      res.Summary.ThreatIndicators,
	}
	if verbose {
		r.Result = &res
	}
	return
}

type ReportsWriter struct {
	lock sync.Mutex
	dst  io.WriteSeeker
}

type ScanContext struct {
	ScanID string
	Start  time.Time
	End    time.Time
}

func NewReportsWriter(dst io.WriteSeeker) *ReportsWriter {
	return &ReportsWriter{dst: dst}
}

func (rw *ReportsWriter) Write(r Report) (err error) {
	rw.lock.Lock()
	defer rw.lock.Unlock()
	// try to seek above last "\n]"
	n, _ := rw.dst.Seek(-2, io.SeekEnd)
	out := bufio.NewWriter(rw.dst)
	if n == 0 {
		// start of file
		if _, err = out.WriteString("[\n"); err != nil {
			return
		}
	} else {
		if _, err = out.WriteString(",\n"); err != nil {
			return
		}
	}

	encoder := json.NewEncoder(out)
	err = encoder.Encode(r)
	if err != nil {
		return
	}
	if _, err = out.WriteString("]"); err != nil {
		return
	}
	if flushErr := out.Flush(); flushErr != nil {
		logger.Error("failed to flush buffer", slog.String("error", flushErr.Error()))
	}
	return
}

// GenerateReport encodes a whole batch as one JSON array.
func GenerateReport(_ ScanContext, reports []Report) (r io.Reader, err error) {
	buffer := &bytes.Buffer{}
	out := json.NewEncoder(buffer)
	err = out.Encode(reports)
	return buffer, err
}
