package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/glimps-re/stegascan/pkg/datamodel"
)

type Actions struct {
	Log       bool
	Print     bool
	Verbose   bool
	PrintDest io.Writer
	// Reports receives every report when set.
	Reports *datamodel.ReportsWriter
}

type Action interface {
	Handle(ctx context.Context, path string, result datamodel.Result, report *datamodel.Report) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, path string, result datamodel.Result, report *datamodel.Report) error

func (f ActionFunc) Handle(ctx context.Context, path string, result datamodel.Result, report *datamodel.Report) error {
	return f(ctx, path, result, report)
}

// ReportAction fills the report from the scan result. It runs first.
type ReportAction struct {
	Verbose bool
}

func (a *ReportAction) Handle(_ context.Context, path string, result datamodel.Result, report *datamodel.Report) (err error) {
	if report.Error != "" {
		report.Filename = path
		return
	}
	filled := datamodel.NewReport(path, report.SHA256, result, a.Verbose)
	filled.ExtractedFrom = report.ExtractedFrom
	filled.Cached = report.Cached
	*report = filled
	return
}

type LogAction struct {
	logger *slog.Logger
}

func (a *LogAction) Handle(_ context.Context, path string, result datamodel.Result, report *datamodel.Report) (err error) {
	attrs := []any{
		slog.String("file", path),
		slog.String("sha256", report.SHA256),
		slog.Bool("steganography-detected", report.SteganographyDetected),
	}
	switch {
	case report.Error != "":
		a.logger.Warn("info scanned", append(attrs, slog.String("error", report.Error))...)
	case report.SteganographyDetected:
		a.logger.Info("info scanned", append(attrs,
			slog.String("confidence", string(report.ConfidenceLevel)),
			slog.Any("threat-indicators", report.ThreatIndicators),
		)...)
	default:
		a.logger.Debug("info scanned", attrs...)
	}
	return nil
}

var (
	highColor   = color.New(color.FgRed, color.Bold)
	mediumColor = color.New(color.FgYellow)
	cleanColor  = color.New(color.FgGreen)
	errorColor  = color.New(color.FgMagenta)
)

// PrintAction writes a one line verdict per file, clean files only when Verbose.
type PrintAction struct {
	Verbose bool
	Out     io.Writer
}

func (a *PrintAction) Handle(_ context.Context, path string, result datamodel.Result, report *datamodel.Report) (err error) {
	if a.Out == nil {
		a.Out = os.Stdout
	}
	switch {
	case report.Error != "":
		_, err = errorColor.Fprintf(a.Out, "file %s could not be analyzed: %s\n", path, report.Error)
	case report.SteganographyDetected:
		sb := strings.Builder{}
		fmt.Fprintf(&sb, "file %s may hide data (confidence %s)", path, report.ConfidenceLevel)
		if len(report.ThreatIndicators) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(report.ThreatIndicators, ", "))
		}
		if report.ExtractedFrom != "" {
			fmt.Fprintf(&sb, ", extracted from %s", report.ExtractedFrom)
		}
		c := mediumColor
		if report.ConfidenceLevel == datamodel.ConfidenceHigh {
			c = highColor
		}
		_, err = c.Fprintln(a.Out, sb.String())
	case a.Verbose:
		_, err = cleanColor.Fprintf(a.Out, "file %s no steganography found\n", path)
	}
	return
}

// WriteReportAction appends each report to a JSON array.
type WriteReportAction struct {
	Writer *datamodel.ReportsWriter
}

func (a *WriteReportAction) Handle(_ context.Context, _ string, _ datamodel.Result, report *datamodel.Report) error {
	return a.Writer.Write(*report)
}

type MultiAction struct {
	Actions []Action
}

func (a *MultiAction) Handle(ctx context.Context, path string, result datamodel.Result, report *datamodel.Report) (err error) {
	for _, h := range a.Actions {
		if err = h.Handle(ctx, path, result, report); err != nil {
			return
		}
	}
	return
}

func NewMultiAction(actions ...Action) *MultiAction {
	return &MultiAction{Actions: actions}
}
