package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidLapData     = errors.New("invalid lap data")
	ErrInputNotFound      = errors.New("input not found")
	ErrInvalidVideo       = errors.New("invalid video")
	ErrOverlappingWindows = errors.New("overlapping lap windows")
	ErrEncodingFailed     = errors.New("encoding failed")
	ErrTimeout            = errors.New("render timed out")
	ErrCancelled          = errors.New("render cancelled")
	ErrTerminal           = errors.New("job already finished")
)

// EncodingError is returned when the transcoding engine exits abnormally.
// Diagnostic holds the tail of the engine's stderr.
type EncodingError struct {
	Diagnostic string
	Err        error
}

func (e *EncodingError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("%v: %v", ErrEncodingFailed, e.Err)
	}
	return fmt.Sprintf("%v: %v: %s", ErrEncodingFailed, e.Err, e.Diagnostic)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func (e *EncodingError) Is(target error) bool { return target == ErrEncodingFailed }

// KindOf classifies an error recorded on a failed job.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrEncodingFailed):
		return ErrorKindEncodingFailed
	default:
		return ErrorKindInternal
	}
}
