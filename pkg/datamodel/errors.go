package datamodel

import "errors"

var (
	// ErrInvalidInput marks caller errors; the scan never starts.
	ErrInvalidInput      = errors.New("invalid input")
	ErrMissingFile       = wrapInput("no file provided")
	ErrEmptyFile         = wrapInput("file is empty")
	ErrInvalidSampleRate = wrapInput("video_sample_rate must be a positive integer")
	ErrFileTooLarge      = wrapInput("file too large")

	ErrDecode         = errors.New("decode error")
	ErrAnalysisFailed = errors.New("analysis failed")
	ErrInternal       = errors.New("internal error")
)

type inputError struct {
	msg string
}

func (e *inputError) Error() string { return e.msg }

func (e *inputError) Unwrap() error { return ErrInvalidInput }

func wrapInput(msg string) error {
	return &inputError{msg: msg}
}
